package mailbox

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/emailflesh/internal/model"
)

// silentListener accepts connections and never speaks, so the TLS
// handshake can only end by timeout.
func silentListener(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	return ln
}

func dialerFor(t *testing.T, addr string, timeout time.Duration) *IMAPDialer {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	d := NewIMAPDialer(model.IMAPConfig{Host: host, Port: port})
	d.connectTimeout = timeout
	return d
}

func TestConnectTimesOutOnSilentServer(t *testing.T) {
	ln := silentListener(t)
	d := dialerFor(t, ln.Addr().String(), 200*time.Millisecond)

	start := time.Now()
	_, err := d.Connect(context.Background(), model.Credentials{
		Account:  "me@example.com",
		Password: "secret",
	})

	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsAuthError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectRefusedIsNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := dialerFor(t, addr, time.Second)
	_, err = d.Connect(context.Background(), model.Credentials{Account: "me@example.com"})

	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

func TestConnectHonoursCancelledContext(t *testing.T) {
	ln := silentListener(t)
	d := dialerFor(t, ln.Addr().String(), 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := d.Connect(ctx, model.Credentials{Account: "me@example.com"})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewIMAPDialerAppliesDefaults(t *testing.T) {
	t.Parallel()

	d := NewIMAPDialer(model.IMAPConfig{Host: "imap.example.com"})
	assert.Equal(t, "imap.example.com:993", d.Address())
	assert.Equal(t, model.DefaultConnectTimeoutSec*time.Second, d.connectTimeout)
	assert.Equal(t, model.DefaultCommandTimeoutSec*time.Second, d.commandTimeout)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		auth       bool
		network    bool
		folder     bool
		fetch      bool
		connection bool
	}{
		{"auth", &AuthError{Account: "a", Err: base}, true, false, false, false, true},
		{"network", &NetworkError{Op: "dial", Addr: "x:993", Err: base}, false, true, false, false, true},
		{"folder", &FolderError{Folder: "inbox", Err: base}, false, false, true, false, true},
		{"fetch", &FetchError{UID: 9, Position: 3, Err: base}, false, false, false, true, false},
		{"wrapped fetch", errors.Join(errors.New("ctx"), &FetchError{Err: base}), false, false, false, true, false},
		{"plain", base, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuthError(tt.err))
			assert.Equal(t, tt.network, IsNetworkError(tt.err))
			assert.Equal(t, tt.folder, IsFolderError(tt.err))
			assert.Equal(t, tt.fetch, IsFetchError(tt.err))
			assert.Equal(t, tt.connection, IsConnectionError(tt.err))
			assert.ErrorIs(t, tt.err, base)
		})
	}
}

func TestConnectionLostIgnoresServerReplies(t *testing.T) {
	t.Parallel()

	s := &IMAPSession{}
	assert.False(t, s.connectionLost(&imap.Error{Type: imap.StatusResponseTypeNo, Text: "no such message"}))
	assert.True(t, s.connectionLost(net.ErrClosed))
	assert.True(t, s.connectionLost(context.DeadlineExceeded))
	assert.False(t, s.connectionLost(errors.New("parse failure")))
}
