package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	serrors "striker/internal/errors"
	"striker/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// SSHDialer routes relay connections through an SSH gateway with
// ssh.Client.Dial.  The gateway is connected lazily on the first Dial
// and reconnected on a later Dial if the connection dropped.
type SSHDialer struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
	alive  bool
}

// NewSSHDialer creates a dialer that forwards connections through the
// gateway described by cfg.  Nothing is dialled until the first Dial.
func NewSSHDialer(cfg *SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHDialer{config: cfg, logger: logger}
}

// Dial connects to address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("gateway: dialing %s %s", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("gateway dial %s: %w", address, err)
	}
	return conn, nil
}

// Alive reports whether the gateway connection is up.
func (d *SSHDialer) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alive
}

// Close shuts down the gateway connection.  A later Dial reconnects.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.alive = false
	if d.client != nil {
		err := d.client.Close()
		d.client = nil
		return err
	}
	return nil
}

// connect returns the live client, dialling the gateway if needed.
func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.alive && d.client != nil {
		return d.client, nil
	}
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}

	cfg := d.config
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, serrors.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, serrors.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	var rejected error
	sshCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: authMethods,
		HostKeyCallback: func(host string, remote net.Addr, key ssh.PublicKey) error {
			err := hkCallback(host, remote, key)
			rejected = err
			return err
		},
		Timeout: cfg.ConnTimeout,
	}

	addr := util.FormatAddr(cfg.Host, cfg.Port)
	d.logger.Verbose("connecting to gateway %s@%s", cfg.User, addr)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, serrors.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, serrors.WrapSSH("handshake", cfg.Host, cfg.Port, classifyHandshake(err, rejected))
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	d.alive = true
	go d.monitor(client)

	d.logger.Verbose("gateway connected")
	return client, nil
}

// classifyHandshake tags a failed handshake with ErrHostKeyMismatch when
// known_hosts holds a different key for the gateway, or with
// ErrAuthFailed when the server refused every auth method.
func classifyHandshake(err, hostKeyErr error) error {
	var ke *knownhosts.KeyError
	if errors.As(hostKeyErr, &ke) && len(ke.Want) > 0 {
		return fmt.Errorf("%w: %v", serrors.ErrHostKeyMismatch, hostKeyErr)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %v", serrors.ErrAuthFailed, err)
	}
	return err
}

// monitor blocks until client closes and marks the dialer dead if
// client is still the current connection.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.alive = false
	}
	d.mu.Unlock()

	if err != nil && !util.IsExpectedClose(err) {
		d.logger.Warn("gateway connection lost: %v", err)
	} else {
		d.logger.Debug("gateway connection closed")
	}
}
