package salt

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"
)

// Bootstrapper re-runs the salt bootstrap on a host over SSH.
type Bootstrapper struct {
	username string
	signer   ssh.Signer
	command  string
	port     int
	timeout  time.Duration
}

// NewBootstrapper parses the stackd SSH key. command runs on the host as
// username.
func NewBootstrapper(username string, privatePEM []byte, command string) (*Bootstrapper, error) {
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key: %w", err)
	}
	return &Bootstrapper{
		username: username,
		signer:   signer,
		command:  command,
		port:     22,
		timeout:  10 * time.Second,
	}, nil
}

// Bootstrap connects to address and runs the bootstrap command.
func (b *Bootstrapper) Bootstrap(ctx context.Context, address string) error {
	ctx, span := tracer.Start(ctx, "salt.bootstrap", trace.WithAttributes(attribute.String("host", address)))
	defer span.End()

	if err := b.bootstrap(ctx, address); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (b *Bootstrapper) bootstrap(ctx context.Context, address string) error {
	addr := net.JoinHostPort(address, fmt.Sprint(b.port))
	dialer := net.Dialer{Timeout: b.timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer tcpConn.Close()

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            b.username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(b.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         b.timeout,
	})
	if err != nil {
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session on %s: %w", addr, err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(b.command)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w: %s", address, err, strings.TrimSpace(string(out)))
	}
	return nil
}
