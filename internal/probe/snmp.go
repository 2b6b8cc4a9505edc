package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/models"
)

// Well-known OIDs from SNMPv2-MIB and IF-MIB.
const (
	oidSysDescr  = "1.3.6.1.2.1.1.1.0"
	oidSysUpTime = "1.3.6.1.2.1.1.3.0"
	oidSysName   = "1.3.6.1.2.1.1.5.0"

	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfAdminStatus = "1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = "1.3.6.1.2.1.2.2.1.8"
)

// DefaultOIDs is fetched when a check spec carries no OID set.
var DefaultOIDs = []string{oidSysDescr, oidSysUpTime, oidSysName}

// Compile-time interface guard.
var _ Driver = (*SNMPDriver)(nil)

// SNMPDriver fetches device telemetry via SNMP v2c or v3 and derives the
// set of operationally-down interfaces from the IF-MIB.
type SNMPDriver struct {
	creds  Credentials
	logger *zap.Logger
}

// NewSNMPDriver creates an SNMP driver resolving credentials through creds.
func NewSNMPDriver(creds Credentials, logger *zap.Logger) *SNMPDriver {
	return &SNMPDriver{creds: creds, logger: logger}
}

func (d *SNMPDriver) Kind() models.ProbeKind { return models.KindSNMP }

// Run queries the configured OID set and walks interface status.
func (d *SNMPDriver) Run(ctx context.Context, dev models.Device, params Params) *models.ProbeResult {
	res, start := newResult(dev, models.KindSNMP)

	if dev.SNMPCredential == "" {
		return fail(res, start, models.ErrAuthFailure, "no snmp credential configured")
	}
	cred, err := d.creds.SNMP(dev.SNMPCredential)
	if err != nil {
		return fail(res, start, models.ErrAuthFailure, fmt.Sprintf("resolve credential %q: %v", dev.SNMPCredential, err))
	}

	g, err := newGoSNMP(dev.Address, cred)
	if err != nil {
		return fail(res, start, models.ErrProtocolError, err.Error())
	}
	g.Context = ctx
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < g.Timeout {
			g.Timeout = remaining
		}
	}

	if err := g.Connect(); err != nil {
		return fail(res, start, models.ErrUnreachable, fmt.Sprintf("connect %s: %v", dev.Address, err))
	}
	defer g.Conn.Close()

	oids := params.OIDs
	if len(oids) == 0 {
		oids = DefaultOIDs
	}

	values := make(map[string]any, len(oids))
	for i := 0; i < len(oids); i += gosnmp.MaxOids {
		end := i + gosnmp.MaxOids
		if end > len(oids) {
			end = len(oids)
		}
		pkt, err := g.Get(oids[i:end])
		if err != nil {
			return fail(res, start, classifySNMPError(ctx, err), fmt.Sprintf("snmp get %s: %v", dev.Address, err))
		}
		for _, v := range pkt.Variables {
			values[strings.TrimPrefix(v.Name, ".")] = decodeSNMPValue(v)
		}
	}

	snmp := &models.SNMPValues{Values: values}

	// Interface status walk. Failure here is not fatal: the scalar get
	// already proved the agent is talking.
	down, walkErr := d.downInterfaces(g)
	if walkErr != nil {
		d.logger.Debug("interface walk failed",
			zap.String("device_id", dev.ID),
			zap.Error(walkErr),
		)
	} else {
		snmp.InterfacesDown = down
	}

	res.Duration = time.Since(start)
	res.Success = true
	res.SNMP = snmp
	return res
}

// downInterfaces returns descriptions of interfaces that are admin-up
// but oper-down.
func (d *SNMPDriver) downInterfaces(g *gosnmp.GoSNMP) ([]string, error) {
	descr := make(map[string]string)
	admin := make(map[string]int)

	walk := func(base string, fn func(index string, v gosnmp.SnmpPDU)) error {
		return g.BulkWalk(base, func(v gosnmp.SnmpPDU) error {
			name := strings.TrimPrefix(v.Name, ".")
			idx := name[strings.LastIndex(name, ".")+1:]
			fn(idx, v)
			return nil
		})
	}

	if err := walk(oidIfDescr, func(idx string, v gosnmp.SnmpPDU) {
		if b, ok := v.Value.([]byte); ok {
			descr[idx] = string(b)
		}
	}); err != nil {
		return nil, err
	}
	if err := walk(oidIfAdminStatus, func(idx string, v gosnmp.SnmpPDU) {
		admin[idx] = gosnmp.ToBigInt(v.Value).Sign() * int(gosnmp.ToBigInt(v.Value).Int64())
	}); err != nil {
		return nil, err
	}

	var down []string
	err := walk(oidIfOperStatus, func(idx string, v gosnmp.SnmpPDU) {
		oper := int(gosnmp.ToBigInt(v.Value).Int64())
		// ifOperStatus 2 = down; only report when ifAdminStatus 1 = up,
		// since an admin-down port is intentional.
		if oper == 2 && admin[idx] == 1 {
			name := descr[idx]
			if name == "" {
				name = "if-" + idx
			}
			down = append(down, name)
		}
	})
	if err != nil {
		return nil, err
	}
	return down, nil
}

// newGoSNMP creates a configured GoSNMP instance for the given target
// and credential. The caller must call Connect.
func newGoSNMP(target string, cred *SNMPCredential) (*gosnmp.GoSNMP, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port specified, default to 161.
		host = target
		portStr = "161"
	}
	port, err := net.LookupPort("udp", portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	g := &gosnmp.GoSNMP{
		Target:  host,
		Port:    uint16(port),
		Timeout: 5 * time.Second,
		Retries: 1,
	}

	switch cred.Type {
	case "snmp_v2c", "":
		g.Version = gosnmp.Version2c
		g.Community = cred.Community

	case "snmp_v3":
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel

		switch cred.SecurityLevel {
		case "noAuthNoPriv":
			g.MsgFlags = gosnmp.NoAuthNoPriv
		case "authNoPriv":
			g.MsgFlags = gosnmp.AuthNoPriv
		case "authPriv", "":
			g.MsgFlags = gosnmp.AuthPriv
		default:
			return nil, fmt.Errorf("unknown snmp security level %q", cred.SecurityLevel)
		}

		usm := &gosnmp.UsmSecurityParameters{
			UserName:                 cred.Username,
			AuthenticationPassphrase: cred.AuthPassphrase,
			PrivacyPassphrase:        cred.PrivacyPassphrase,
		}
		switch cred.AuthProtocol {
		case "MD5":
			usm.AuthenticationProtocol = gosnmp.MD5
		case "SHA", "":
			usm.AuthenticationProtocol = gosnmp.SHA
		case "SHA-256":
			usm.AuthenticationProtocol = gosnmp.SHA256
		default:
			return nil, fmt.Errorf("unknown snmp auth protocol %q", cred.AuthProtocol)
		}
		switch cred.PrivacyProtocol {
		case "DES":
			usm.PrivacyProtocol = gosnmp.DES
		case "AES", "":
			usm.PrivacyProtocol = gosnmp.AES
		case "AES-256":
			usm.PrivacyProtocol = gosnmp.AES256
		default:
			return nil, fmt.Errorf("unknown snmp privacy protocol %q", cred.PrivacyProtocol)
		}
		g.SecurityParameters = usm

	default:
		return nil, fmt.Errorf("unknown snmp credential type %q", cred.Type)
	}

	return g, nil
}

// classifySNMPError maps gosnmp failures onto the probe error taxonomy.
func classifySNMPError(ctx context.Context, err error) models.ErrorKind {
	if ctx.Err() != nil {
		return ctxErrorKind(ctx)
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return models.ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		// A v2c agent with the wrong community silently discards the
		// request, which surfaces as a timeout.
		return models.ErrTimeout
	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "unknown user"),
		strings.Contains(msg, "usm"):
		return models.ErrAuthFailure
	default:
		return models.ErrProtocolError
	}
}

// decodeSNMPValue converts a PDU value into a JSON-friendly scalar.
func decodeSNMPValue(v gosnmp.SnmpPDU) any {
	switch v.Type {
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return string(b)
		}
		return v.Value
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.Integer, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(v.Value).Int64()
	default:
		return v.Value
	}
}
