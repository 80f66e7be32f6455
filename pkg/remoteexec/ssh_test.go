package remoteexec

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is an in-process ssh server that runs every exec request
// through the local sh.
type testSSHServer struct {
	port    int
	hostKey ssh.Signer

	// authHook runs before a user's key is checked
	authHook func(user string)

	lock     sync.Mutex
	users    []string
	commands []string
	conns    []net.Conn
}

func newTestKey(t *testing.T) ([]byte, ssh.Signer) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	return pem.EncodeToMemory(block), signer
}

func newTestSSHServer(t *testing.T, authorized ssh.PublicKey) *testSSHServer {
	_, hostKey := newTestKey(t)
	s := &testSSHServer{hostKey: hostKey}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.lock.Lock()
			hook := s.authHook
			s.lock.Unlock()
			if hook != nil {
				hook(conn.User())
			}

			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key for %s", conn.User())
		},
	}
	config.AddHostKey(hostKey)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lis.Close()
		s.closeConns()
	})

	s.port = lis.Addr().(*net.TCPAddr).Port
	go s.serve(lis, config)

	return s
}

func (s *testSSHServer) serve(lis net.Listener, config *ssh.ServerConfig) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}

		s.lock.Lock()
		s.conns = append(s.conns, conn)
		s.lock.Unlock()

		go s.handleConn(conn, config)
	}
}

func (s *testSSHServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		_ = conn.Close()
		return
	}

	s.lock.Lock()
	s.users = append(s.users, sconn.User())
	s.lock.Unlock()

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}

		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testSSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.lock.Lock()
		s.commands = append(s.commands, payload.Command)
		s.lock.Unlock()

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()

		var status uint32
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = uint32(exitErr.ExitCode())
			} else {
				status = 127
			}
		}

		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func (s *testSSHServer) closeConns() {
	s.lock.Lock()
	conns := s.conns
	s.conns = nil
	s.lock.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *testSSHServer) setAuthHook(hook func(user string)) {
	s.lock.Lock()
	s.authHook = hook
	s.lock.Unlock()
}

func (s *testSSHServer) Users() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.users...)
}

func (s *testSSHServer) Commands() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.commands...)
}

func newTestSSHExecutor(t *testing.T, port int, keyPem []byte, opts func(*SSHExecutorOptions)) *SSHExecutor {
	o := SSHExecutorOptions{
		Logger:                zaptest.NewLogger(t),
		Port:                  port,
		DialTimeout:           5 * time.Second,
		PrivateKeys:           [][]byte{keyPem},
		InsecureIgnoreHostKey: true,
	}
	if opts != nil {
		opts(&o)
	}

	e, err := NewSSHExecutor(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestSSHExecutorQuotesCommand(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	e := newTestSSHExecutor(t, s.port, keyPem, nil)

	res, err := e.Execute(context.Background(), "127.0.0.1", "ops", []string{"printf", "%s|%s", "a b", "it's"})
	require.NoError(t, err)
	require.True(t, res.Success())
	require.Equal(t, "a b|it's", res.Stdout)

	require.Equal(t, []string{`printf '%s|%s' 'a b' 'it'"'"'s'`}, s.Commands())
	require.Equal(t, []string{"ops"}, s.Users())
}

func TestSSHExecutorWritesPidFile(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	e := newTestSSHExecutor(t, s.port, keyPem, nil)

	pidFile := filepath.Join(t.TempDir(), "mongod.pid")
	res, err := e.Execute(context.Background(), "127.0.0.1", "ops",
		[]string{"sh", "-c", "printf '%d' 4242 > " + pidFile})
	require.NoError(t, err)
	require.True(t, res.Success(), res.Stderr)

	content, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	require.Equal(t, "4242", string(content))
}

func TestSSHExecutorExitCode(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	e := newTestSSHExecutor(t, s.port, keyPem, nil)

	res, err := e.Execute(context.Background(), "127.0.0.1", "ops", []string{"sh", "-c", "echo oops 1>&2; exit 3"})
	require.NoError(t, err)
	require.False(t, res.Success())
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "oops\n", res.Stderr)
}

func TestSSHExecutorReusesConnection(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	e := newTestSSHExecutor(t, s.port, keyPem, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Execute(ctx, "127.0.0.1", "ops", []string{"true"})
		require.NoError(t, err)
	}
	require.Len(t, s.Users(), 1)

	// a dead connection fails the command once and is redialled after
	s.closeConns()

	_, err := e.Execute(ctx, "127.0.0.1", "ops", []string{"true"})
	require.ErrorIs(t, err, ErrRemoteUnreachable)

	res, err := e.Execute(ctx, "127.0.0.1", "ops", []string{"true"})
	require.NoError(t, err)
	require.True(t, res.Success())
	require.Len(t, s.Users(), 2)
}

func TestSSHExecutorUnreachableHost(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	keyPem, _ := newTestKey(t)
	e := newTestSSHExecutor(t, port, keyPem, nil)

	_, err = e.Execute(context.Background(), "127.0.0.1", "ops", []string{"true"})
	require.ErrorIs(t, err, ErrRemoteUnreachable)
}

func TestSSHExecutorRejectedKey(t *testing.T) {
	_, authorized := newTestKey(t)
	s := newTestSSHServer(t, authorized.PublicKey())

	keyPem, _ := newTestKey(t)
	e := newTestSSHExecutor(t, s.port, keyPem, nil)

	_, err := e.Execute(context.Background(), "127.0.0.1", "ops", []string{"true"})
	require.ErrorIs(t, err, ErrRemoteUnreachable)
	require.Empty(t, s.Commands())
}

func TestSSHExecutorKnownHosts(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))

	writeKnownHosts := func(key ssh.PublicKey) string {
		path := filepath.Join(t.TempDir(), "known_hosts")
		require.NoError(t, os.WriteFile(path, []byte(knownhosts.Line([]string{addr}, key)+"\n"), 0o600))
		return path
	}

	trusted := newTestSSHExecutor(t, s.port, keyPem, func(o *SSHExecutorOptions) {
		o.InsecureIgnoreHostKey = false
		o.KnownHostsPath = writeKnownHosts(s.hostKey.PublicKey())
	})
	res, err := trusted.Execute(context.Background(), "127.0.0.1", "ops", []string{"true"})
	require.NoError(t, err)
	require.True(t, res.Success())

	_, otherHostKey := newTestKey(t)
	untrusted := newTestSSHExecutor(t, s.port, keyPem, func(o *SSHExecutorOptions) {
		o.InsecureIgnoreHostKey = false
		o.KnownHostsPath = writeKnownHosts(otherHostKey.PublicKey())
	})
	_, err = untrusted.Execute(context.Background(), "127.0.0.1", "ops", []string{"true"})
	require.ErrorIs(t, err, ErrRemoteUnreachable)
}

func TestSSHExecutorSlowHandshakeDoesNotBlockOthers(t *testing.T) {
	keyPem, signer := newTestKey(t)
	s := newTestSSHServer(t, signer.PublicKey())
	e := newTestSSHExecutor(t, s.port, keyPem, nil)

	stalledCh := make(chan struct{})
	releaseCh := make(chan struct{})
	var stalledOnce sync.Once
	s.setAuthHook(func(user string) {
		if user != "slow" {
			return
		}
		stalledOnce.Do(func() { close(stalledCh) })
		<-releaseCh
	})

	slowErrCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), "127.0.0.1", "slow", []string{"true"})
		slowErrCh <- err
	}()
	<-stalledCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := e.Execute(ctx, "127.0.0.1", "ops", []string{"true"})
	require.NoError(t, err)
	require.True(t, res.Success())

	close(releaseCh)
	require.NoError(t, <-slowErrCh)
}

func TestSSHExecutorEmptyCommand(t *testing.T) {
	keyPem, _ := newTestKey(t)
	e := newTestSSHExecutor(t, 22, keyPem, nil)

	_, err := e.Execute(context.Background(), "127.0.0.1", "ops", nil)
	require.Error(t, err)
}

func TestSSHExecutorRequiresAuth(t *testing.T) {
	_, err := NewSSHExecutor(SSHExecutorOptions{InsecureIgnoreHostKey: true})
	require.Error(t, err)
}
