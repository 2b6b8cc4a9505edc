package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/HerbHall/netmedic/pkg/models"
)

const defaultSSHPort = 22

// Compile-time interface guard.
var _ Driver = (*SSHDriver)(nil)

// SSHDriver runs a single command on a device over SSH and captures its
// output. Commands arrive already resolved against the allow-list; the
// driver never constructs command lines itself.
type SSHDriver struct {
	creds  Credentials
	logger *zap.Logger

	// sshDial is the function used to establish SSH connections.
	// Defaults to ssh.Dial; overridden in tests.
	sshDial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewSSHDriver creates an SSH driver resolving credentials through creds.
func NewSSHDriver(creds Credentials, logger *zap.Logger) *SSHDriver {
	return &SSHDriver{creds: creds, logger: logger}
}

func (d *SSHDriver) Kind() models.ProbeKind { return models.KindSSH }

// Run executes params.Command on the device. A non-zero exit status is a
// protocol failure with the captured output attached for diagnosis.
func (d *SSHDriver) Run(ctx context.Context, dev models.Device, params Params) *models.ProbeResult {
	res, start := newResult(dev, models.KindSSH)

	if params.Command == "" {
		return fail(res, start, models.ErrProtocolError, "no command to execute")
	}
	if dev.SSHCredential == "" {
		return fail(res, start, models.ErrAuthFailure, "no ssh credential configured")
	}
	cred, err := d.creds.SSH(dev.SSHCredential)
	if err != nil {
		return fail(res, start, models.ErrAuthFailure, fmt.Sprintf("resolve credential %q: %v", dev.SSHCredential, err))
	}

	cfg, err := clientConfig(cred)
	if err != nil {
		return fail(res, start, models.ErrAuthFailure, err.Error())
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < cfg.Timeout {
			cfg.Timeout = remaining
		}
	}

	port := cred.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := dev.Address
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(port))
	}

	dial := d.sshDial
	if dial == nil {
		dial = ssh.Dial
	}
	client, err := dial("tcp", addr, cfg)
	if err != nil {
		return fail(res, start, classifySSHError(ctx, err), fmt.Sprintf("ssh dial %s: %v", addr, err))
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fail(res, start, models.ErrProtocolError, fmt.Sprintf("ssh session: %v", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// session.Run has no context support; close the client on ctx expiry
	// to unblock it.
	done := make(chan error, 1)
	go func() {
		done <- session.Run(params.Command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		client.Close()
		<-done
		return fail(res, start, ctxErrorKind(ctx), ctx.Err().Error())
	}

	out := &models.SSHOutput{
		Command: params.Command,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	res.Duration = time.Since(start)
	res.SSH = out

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			res.Success = false
			res.Error = models.ErrProtocolError
			res.ErrorMessage = fmt.Sprintf("command exited %d", out.ExitCode)
			return res
		}
		res.Success = false
		res.Error = classifySSHError(ctx, err)
		res.ErrorMessage = fmt.Sprintf("ssh run: %v", err)
		return res
	}

	res.Success = true
	return res
}

// clientConfig builds an ssh.ClientConfig from a resolved credential.
// Key auth is preferred when both a key and a password are present.
func clientConfig(cred *SSHCredential) (*ssh.ClientConfig, error) {
	if cred.Username == "" {
		return nil, fmt.Errorf("ssh credential has no username")
	}

	var auth []ssh.AuthMethod
	if cred.PrivateKeyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cred.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		auth = append(auth, ssh.Password(cred.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh credential has neither key nor password")
	}

	return &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: host key verification is a future enhancement
		Timeout:         10 * time.Second,
	}, nil
}

// classifySSHError maps dial and transport failures onto the probe
// error taxonomy.
func classifySSHError(ctx context.Context, err error) models.ErrorKind {
	if ctx.Err() != nil {
		return ctxErrorKind(ctx)
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return models.ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "handshake failed"):
		return models.ErrAuthFailure
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "no such host"):
		return models.ErrUnreachable
	case strings.Contains(msg, "i/o timeout"):
		return models.ErrTimeout
	default:
		return models.ErrProtocolError
	}
}
