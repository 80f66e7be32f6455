package remoteexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHExecutorOptions struct {
	Logger *zap.Logger

	Port        int
	DialTimeout time.Duration

	// PrivateKeys are PEM encoded keys tried before the agent.
	PrivateKeys [][]byte
	UseAgent    bool

	KnownHostsPath        string
	InsecureIgnoreHostKey bool
}

// SSHExecutor runs commands over a key-trusted secure shell session.  One
// client connection is kept per user@host and reused across commands.
type SSHExecutor struct {
	logger          *zap.Logger
	port            int
	dialTimeout     time.Duration
	authMethods     []ssh.AuthMethod
	hostKeyCallback ssh.HostKeyCallback

	lock    sync.Mutex
	clients map[string]*ssh.Client
}

var _ Executor = (*SSHExecutor)(nil)

func NewSSHExecutor(opts SSHExecutorOptions) (*SSHExecutor, error) {
	e := &SSHExecutor{
		logger:      opts.Logger,
		port:        opts.Port,
		dialTimeout: opts.DialTimeout,
		clients:     make(map[string]*ssh.Client),
	}

	err := e.init(opts)
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (e *SSHExecutor) init(opts SSHExecutorOptions) error {
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.port == 0 {
		e.port = 22
	}
	if e.dialTimeout == 0 {
		e.dialTimeout = 10 * time.Second
	}

	var signers []ssh.Signer
	for _, keyPem := range opts.PrivateKeys {
		signer, err := ParsePrivateKey(keyPem)
		if err != nil {
			return err
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		e.authMethods = append(e.authMethods, ssh.PublicKeys(signers...))
	}

	if opts.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				e.logger.Warn("failed to connect to ssh agent", zap.Error(err))
			} else {
				e.authMethods = append(e.authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if len(e.authMethods) == 0 {
		return errors.New("no ssh authentication method available")
	}

	if opts.InsecureIgnoreHostKey {
		e.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		knownHostsPath := opts.KnownHostsPath
		if knownHostsPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return pkgerrors.Wrap(err, "failed to locate known_hosts")
			}
			knownHostsPath = home + "/.ssh/known_hosts"
		}

		callback, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to load known_hosts")
		}
		e.hostKeyCallback = callback
	}

	return nil
}

// ParsePrivateKey parses a PEM encoded private key into an ssh signer.
func ParsePrivateKey(keyPem []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(keyPem)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse ssh private key")
	}

	return signer, nil
}

func (e *SSHExecutor) client(ctx context.Context, host, user string) (*ssh.Client, error) {
	key := user + "@" + host

	e.lock.Lock()
	client, ok := e.clients[key]
	e.lock.Unlock()
	if ok {
		return client, nil
	}

	// dial without the lock so one slow host does not hold up the others
	client, err := e.dial(ctx, host, user)
	if err != nil {
		return nil, err
	}

	e.lock.Lock()
	if existing, ok := e.clients[key]; ok {
		e.lock.Unlock()
		_ = client.Close()
		return existing, nil
	}
	e.clients[key] = client
	e.lock.Unlock()

	e.logger.Debug("opened ssh connection", zap.String("host", host), zap.String("user", user))

	return client, nil
}

func (e *SSHExecutor) dial(ctx context.Context, host, user string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(e.port))
	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteUnreachable, addr, err)
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            e.authMethods,
		HostKeyCallback: e.hostKeyCallback,
		Timeout:         e.dialTimeout,
	}

	// the handshake is bounded by the dial timeout as well
	_ = conn.SetDeadline(time.Now().Add(e.dialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteUnreachable, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (e *SSHExecutor) dropClient(host, user string) {
	key := user + "@" + host

	e.lock.Lock()
	client := e.clients[key]
	delete(e.clients, key)
	e.lock.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

func (e *SSHExecutor) Execute(ctx context.Context, host, user string, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	client, err := e.client(ctx, host, user)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// the connection is most likely dead, dial again next time
		e.dropClient(host, user)
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteUnreachable, host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- session.Run(shellescape.QuoteCommand(argv))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-doneCh:
	}

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			res.ExitCode = -1
		default:
			e.dropClient(host, user)
			return nil, fmt.Errorf("%w: %s: %s", ErrRemoteUnreachable, host, err)
		}
	}

	return res, nil
}

func (e *SSHExecutor) Close() error {
	e.lock.Lock()
	clients := e.clients
	e.clients = make(map[string]*ssh.Client)
	e.lock.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}

	return nil
}
