package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/HerbHall/netmedic/pkg/models"
)

// Traceroute defaults. basePort is the conventional UDP traceroute range;
// the destination answers with port-unreachable when a probe lands.
const (
	defaultHopLimit      = 30
	defaultPerHopTimeout = 2 * time.Second
	traceBasePort        = 33434
)

// Compile-time interface guard.
var _ Driver = (*TracerouteDriver)(nil)

// TracerouteDriver maps the network path to a device by sending UDP
// probes with increasing TTL and collecting ICMP time-exceeded replies.
// Requires privileges to open the raw ICMP listener.
type TracerouteDriver struct {
	logger *zap.Logger
}

// NewTracerouteDriver creates a traceroute driver.
func NewTracerouteDriver(logger *zap.Logger) *TracerouteDriver {
	return &TracerouteDriver{logger: logger}
}

func (d *TracerouteDriver) Kind() models.ProbeKind { return models.KindTraceroute }

// Run traces the path to the device, one hop per TTL, stopping at the
// destination or the hop limit.
func (d *TracerouteDriver) Run(ctx context.Context, dev models.Device, params Params) *models.ProbeResult {
	res, start := newResult(dev, models.KindTraceroute)

	hopLimit := params.HopLimit
	if hopLimit <= 0 {
		hopLimit = defaultHopLimit
	}
	perHop := params.PerHopTimeout
	if perHop <= 0 {
		perHop = defaultPerHopTimeout
	}

	dst, err := net.ResolveIPAddr("ip4", dev.Address)
	if err != nil {
		return fail(res, start, models.ErrUnreachable, fmt.Sprintf("resolve %s: %v", dev.Address, err))
	}

	listener, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		// Raw sockets need CAP_NET_RAW; surface as a protocol problem
		// rather than blaming the target.
		return fail(res, start, models.ErrProtocolError, fmt.Sprintf("icmp listen: %v", err))
	}
	defer listener.Close()

	trace := &models.TraceResult{}
	buf := make([]byte, 1500)

	for ttl := 1; ttl <= hopLimit; ttl++ {
		if ctx.Err() != nil {
			return fail(res, start, ctxErrorKind(ctx), ctx.Err().Error())
		}

		hop, reached, hopErr := d.probeHop(ctx, listener, dst, ttl, perHop, buf)
		if hopErr != nil {
			return fail(res, start, models.ErrProtocolError, hopErr.Error())
		}
		trace.Hops = append(trace.Hops, hop)
		if reached {
			trace.Reached = true
			break
		}
	}

	res.Duration = time.Since(start)
	res.Trace = trace

	if !trace.Reached {
		res.Success = false
		res.Error = models.ErrUnreachable
		res.ErrorMessage = fmt.Sprintf("destination not reached within %d hops", hopLimit)
		return res
	}

	res.Success = true
	return res
}

// probeHop sends one TTL-limited UDP probe and waits for the ICMP reply.
func (d *TracerouteDriver) probeHop(ctx context.Context, listener *icmp.PacketConn, dst *net.IPAddr, ttl int, perHop time.Duration, buf []byte) (models.TraceHop, bool, error) {
	hop := models.TraceHop{TTL: ttl}

	conn, err := net.Dial("udp4", net.JoinHostPort(dst.IP.String(), strconv.Itoa(traceBasePort+ttl)))
	if err != nil {
		return hop, false, fmt.Errorf("dial udp: %w", err)
	}

	p := ipv4.NewConn(conn)
	if err := p.SetTTL(ttl); err != nil {
		conn.Close()
		return hop, false, fmt.Errorf("set ttl %d: %w", ttl, err)
	}

	sent := time.Now()
	_, err = conn.Write([]byte("netmedic-trace"))
	conn.Close()
	if err != nil {
		return hop, false, fmt.Errorf("send probe ttl %d: %w", ttl, err)
	}

	deadline := sent.Add(perHop)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	for {
		if err := listener.SetReadDeadline(deadline); err != nil {
			return hop, false, fmt.Errorf("set read deadline: %w", err)
		}

		n, peer, err := listener.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				hop.Timeout = true
				return hop, false, nil
			}
			return hop, false, fmt.Errorf("read icmp: %w", err)
		}

		msg, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), buf[:n])
		if err != nil {
			continue // unrelated traffic on the raw socket
		}

		switch msg.Type {
		case ipv4.ICMPTypeTimeExceeded:
			hop.Address = peer.String()
			hop.RTT = time.Since(sent)
			return hop, false, nil
		case ipv4.ICMPTypeDestinationUnreachable:
			hop.Address = peer.String()
			hop.RTT = time.Since(sent)
			reached := peer.String() == dst.IP.String()
			return hop, reached, nil
		default:
			// Echo replies and other ICMP chatter from concurrent pings.
			continue
		}
	}
}
