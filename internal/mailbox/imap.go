package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/emailflesh/internal/model"
)

// IMAPDialer connects to an IMAP server over implicit TLS using go-imap v2.
type IMAPDialer struct {
	host           string
	port           string
	connectTimeout time.Duration
	commandTimeout time.Duration
	tlsConfig      *tls.Config
	debugWriter    io.Writer
}

// IMAPOption customises an IMAPDialer.
type IMAPOption func(*IMAPDialer)

// WithTLSConfig overrides the TLS configuration (tests use a private CA).
func WithTLSConfig(cfg *tls.Config) IMAPOption {
	return func(d *IMAPDialer) { d.tlsConfig = cfg }
}

// WithDebugWriter mirrors raw protocol traffic to w.
func WithDebugWriter(w io.Writer) IMAPOption {
	return func(d *IMAPDialer) { d.debugWriter = w }
}

// NewIMAPDialer creates a dialer from the imap section of the config.
func NewIMAPDialer(cfg model.IMAPConfig, opts ...IMAPOption) *IMAPDialer {
	d := &IMAPDialer{
		host:           cfg.Host,
		port:           cfg.Port,
		connectTimeout: cfg.ConnectTimeout(),
		commandTimeout: cfg.CommandTimeout(),
	}
	if d.port == "" {
		d.port = model.DefaultIMAPPort
	}
	if d.connectTimeout <= 0 {
		d.connectTimeout = model.DefaultConnectTimeoutSec * time.Second
	}
	if d.commandTimeout <= 0 {
		d.commandTimeout = model.DefaultCommandTimeoutSec * time.Second
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Address returns host:port.
func (d *IMAPDialer) Address() string {
	return net.JoinHostPort(d.host, d.port)
}

// Connect establishes a TLS connection, authenticates, and returns the
// session. The caller is responsible for calling Close on it.
func (d *IMAPDialer) Connect(
	ctx context.Context, creds model.Credentials,
) (Session, error) {
	addr := d.Address()

	tlsConfig := d.tlsConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: d.host}
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.connectTimeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &NetworkError{Op: "connecting to IMAP", Addr: addr, Err: err}
	}

	client := imapclient.New(conn, &imapclient.Options{
		DebugWriter: d.debugWriter,
	})

	s := &IMAPSession{
		client:         client,
		conn:           conn,
		addr:           addr,
		commandTimeout: d.commandTimeout,
	}

	err = s.withDeadline(ctx, d.connectTimeout, func() error {
		return client.Login(creds.Account, creds.Password).Wait()
	})
	if err != nil {
		_ = s.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &AuthError{Account: creds.Account, Err: err}
		}
		return nil, &NetworkError{Op: "logging in to IMAP", Addr: addr, Err: err}
	}

	return s, nil
}

// IMAPSession is a logged-in go-imap client plus the raw connection it
// runs on, so every command can be bounded by a deadline.
type IMAPSession struct {
	client         *imapclient.Client
	conn           net.Conn
	addr           string
	commandTimeout time.Duration
	closeOnce      sync.Once
	closeErr       error
}

// SelectFolder opens the named folder read-only.
func (s *IMAPSession) SelectFolder(ctx context.Context, name string) error {
	err := s.withDeadline(ctx, s.commandTimeout, func() error {
		_, err := s.client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
		return err
	})
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &FolderError{Folder: name, Err: err}
	}
	return &NetworkError{Op: fmt.Sprintf("selecting %q on", name), Addr: s.addr, Err: err}
}

// ListAll runs UID SEARCH ALL and maps the result to positions.
func (s *IMAPSession) ListAll(ctx context.Context) ([]model.MessageRef, error) {
	var uids []imap.UID
	err := s.withDeadline(ctx, s.commandTimeout, func() error {
		data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, &NetworkError{Op: "searching messages on", Addr: s.addr, Err: err}
	}

	refs := make([]model.MessageRef, 0, len(uids))
	for i, uid := range uids {
		refs = append(refs, model.MessageRef{UID: uint32(uid), Position: i + 1})
	}
	return refs, nil
}

// FetchRaw downloads the whole message without setting \Seen.
func (s *IMAPSession) FetchRaw(
	ctx context.Context, ref model.MessageRef,
) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	var raw []byte
	err := s.withDeadline(ctx, s.commandTimeout, func() error {
		fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(ref.UID)), fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			if err := fetchCmd.Close(); err != nil {
				return err
			}
			return errMessageNotFound
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}
		raw = buf.FindBodySection(bodySection)

		return fetchCmd.Close()
	})

	switch {
	case err == nil && raw == nil:
		return nil, &FetchError{UID: ref.UID, Position: ref.Position, Err: errEmptyBody}
	case err == nil:
		return raw, nil
	case errors.Is(err, errMessageNotFound):
		return nil, &FetchError{UID: ref.UID, Position: ref.Position, Err: err}
	case s.connectionLost(err):
		return nil, &NetworkError{Op: "fetching message from", Addr: s.addr, Err: err}
	default:
		return nil, &FetchError{UID: ref.UID, Position: ref.Position, Err: err}
	}
}

// Close logs out and closes the connection.
func (s *IMAPSession) Close() error {
	s.closeOnce.Do(func() {
		// Logout on a dead connection must not hang the caller.
		_ = s.conn.SetDeadline(time.Now().Add(5 * time.Second))
		_ = s.client.Logout().Wait()
		s.closeErr = s.client.Close()
		if errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

var (
	errMessageNotFound = errors.New("message not found")
	errEmptyBody       = errors.New("server returned no message body")
)

// withDeadline bounds fn by timeout and by ctx. Cancelling ctx expires the
// connection deadline, which unblocks any pending read or write.
func (s *IMAPSession) withDeadline(
	ctx context.Context, timeout time.Duration, fn func() error,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})

	err := fn()

	if stop() {
		_ = s.conn.SetDeadline(time.Time{})
	}
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// connectionLost distinguishes transport failures from server replies.
func (s *IMAPSession) connectionLost(err error) bool {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
