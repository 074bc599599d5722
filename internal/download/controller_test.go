package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/emailflesh/internal/logging"
	"github.com/nhle/emailflesh/internal/mailbox"
	"github.com/nhle/emailflesh/internal/model"
	"github.com/nhle/emailflesh/internal/progress"
)

const testAccount = "me@example.com"

// messageWith builds a multipart message carrying one text attachment.
func messageWith(filename, body string) []byte {
	raw := fmt.Sprintf(`From: alice@example.com
To: me@example.com
Subject: %[1]s
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="B"

--B
Content-Type: text/plain

body
--B
Content-Type: text/plain; name="%[1]s"
Content-Disposition: attachment; filename="%[1]s"

%[2]s
--B--
`, filename, body)
	return []byte(strings.ReplaceAll(raw, "\n", "\r\n"))
}

type fakeSession struct {
	mu       sync.Mutex
	messages [][]byte
	fetchErr map[int]error
	onFetch   func(position int)
	selectErr error
	listErr   error
	fetched  []int
	closed   bool
}

func newFakeSession(n int) *fakeSession {
	s := &fakeSession{fetchErr: make(map[int]error)}
	for i := 1; i <= n; i++ {
		s.messages = append(s.messages, messageWith(fmt.Sprintf("file-%02d.txt", i), fmt.Sprintf("payload %d", i)))
	}
	return s
}

func (s *fakeSession) SelectFolder(context.Context, string) error { return s.selectErr }

func (s *fakeSession) ListAll(context.Context) ([]model.MessageRef, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	refs := make([]model.MessageRef, len(s.messages))
	for i := range s.messages {
		refs[i] = model.MessageRef{UID: uint32(100 + i), Position: i + 1}
	}
	return refs, nil
}

func (s *fakeSession) FetchRaw(_ context.Context, ref model.MessageRef) ([]byte, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, ref.Position)
	hook := s.onFetch
	err := s.fetchErr[ref.Position]
	s.mu.Unlock()

	if hook != nil {
		hook(ref.Position)
	}
	if err != nil {
		return nil, err
	}
	return s.messages[ref.Position-1], nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) fetchedPositions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetched...)
}

type fakeDialer struct {
	session *fakeSession
	err     error
	calls   int
}

func (d *fakeDialer) Connect(context.Context, model.Credentials) (mailbox.Session, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type memLedger struct {
	mu      sync.Mutex
	records []model.DownloadRecord
}

func (l *memLedger) RecordDownload(_ context.Context, rec model.DownloadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

type fixture struct {
	dest     string
	store    *progress.Store
	dialer   *fakeDialer
	ctrl     *Controller
	progPath string
}

func newFixture(t *testing.T, session *fakeSession) *fixture {
	t.Helper()

	dir := t.TempDir()
	progPath := filepath.Join(dir, "progress.json")
	store := progress.Load(progPath, logging.Discard())
	dialer := &fakeDialer{session: session}

	return &fixture{
		dest:     filepath.Join(dir, "out"),
		store:    store,
		dialer:   dialer,
		progPath: progPath,
		ctrl: New(Options{
			Dialer:   dialer,
			Progress: store,
			Log:      logging.Discard(),
		}),
	}
}

func (f *fixture) request() Request {
	return Request{
		Credentials: model.Credentials{Account: testAccount, Password: "secret"},
		Destination: f.dest,
	}
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background(), f.request()))
	return waitResult(t, f.ctrl)
}

func waitResult(t *testing.T, c *Controller) Result {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return c.Wait()
}

// drain returns every event currently buffered.
func drain(c *Controller) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// waitFor reads events until one of kind arrives.
func waitFor(t *testing.T, c *Controller, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func messages(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}

func TestRunDownloadsEveryAttachment(t *testing.T) {
	t.Parallel()

	session := newFakeSession(3)
	f := newFixture(t, session)

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, 3, f.store.Get(testAccount))
	assert.True(t, session.closed)
	assert.Equal(t, StateIdle, f.ctrl.State())

	data, err := os.ReadFile(filepath.Join(f.dest, "me", "file-02.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload 2", strings.TrimSpace(string(data)))

	msgs := messages(drain(f.ctrl))
	assert.Contains(t, msgs, "Found 3 emails.")
	assert.Contains(t, msgs, "Processing email 1/3...")
	assert.Contains(t, msgs, "Downloading attachment: file-01.txt")
	assert.Contains(t, msgs, "All emails processed.")
	assert.Contains(t, msgs, "Closing the connection.")
}

func TestRunIsIdempotentOnceComplete(t *testing.T) {
	t.Parallel()

	session := newFakeSession(4)
	f := newFixture(t, session)

	f.run(t)
	drain(f.ctrl)
	require.Len(t, session.fetchedPositions(), 4)

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Zero(t, res.Processed)
	assert.Len(t, session.fetchedPositions(), 4, "second run fetches nothing")
	assert.Equal(t, 4, f.store.Get(testAccount))
}

func TestRunResumesAfterCheckpoint(t *testing.T) {
	t.Parallel()

	session := newFakeSession(6)
	f := newFixture(t, session)
	require.NoError(t, f.store.Save(testAccount, 4))

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.StartIndex)
	assert.Equal(t, []int{5, 6}, session.fetchedPositions())
	assert.Contains(t, messages(drain(f.ctrl)), "Resuming from email 5.")
}

func TestRunSurvivesConnectionLossMidway(t *testing.T) {
	t.Parallel()

	session := newFakeSession(6)
	session.fetchErr[4] = &mailbox.NetworkError{Op: "fetch", Addr: "imap.test:993", Err: errors.New("EOF")}
	f := newFixture(t, session)

	res := f.run(t)
	require.Error(t, res.Err)
	assert.True(t, mailbox.IsNetworkError(res.Err))
	assert.False(t, res.Completed)
	assert.Equal(t, 3, f.store.Get(testAccount))

	// The next process starts from disk.
	reloaded := progress.Load(f.progPath, logging.Discard())
	assert.Equal(t, 3, reloaded.Get(testAccount))

	delete(session.fetchErr, 4)
	session.fetched = nil
	drain(f.ctrl)

	res = f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, []int{4, 5, 6}, session.fetchedPositions())
	assert.Equal(t, 6, f.store.Get(testAccount))
}

func TestRunSkipsUnfetchableMessage(t *testing.T) {
	t.Parallel()

	session := newFakeSession(3)
	session.fetchErr[2] = &mailbox.FetchError{UID: 101, Position: 2, Err: errors.New("NO such message")}
	f := newFixture(t, session)

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, 3, f.store.Get(testAccount))

	_, err := os.Stat(filepath.Join(f.dest, "me", "file-02.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, messages(drain(f.ctrl)), "Failed to fetch email 2. Skipping...")
}

func TestStopFinishesCurrentMessage(t *testing.T) {
	t.Parallel()

	session := newFakeSession(10)
	f := newFixture(t, session)
	session.onFetch = func(position int) {
		if position == 5 {
			f.ctrl.Stop()
		}
	}

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Stopped)
	assert.False(t, res.Completed)
	assert.Equal(t, 5, res.LastIndex)
	assert.Equal(t, 5, f.store.Get(testAccount))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, session.fetchedPositions())

	_, err := os.Stat(filepath.Join(f.dest, "me", "file-05.txt"))
	require.NoError(t, err)
	assert.Contains(t, messages(drain(f.ctrl)), "Download stopped by user.")
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	session := newFakeSession(5)
	f := newFixture(t, session)
	session.onFetch = func(position int) {
		if position == 2 {
			f.ctrl.Pause()
		}
	}

	require.NoError(t, f.ctrl.Start(context.Background(), f.request()))
	waitFor(t, f.ctrl, EventPaused)

	assert.Equal(t, StatePaused, f.ctrl.State())
	assert.Equal(t, 2, f.store.Get(testAccount))
	assert.Equal(t, []int{1, 2}, session.fetchedPositions())

	assert.True(t, f.ctrl.Resume())
	res := waitResult(t, f.ctrl)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, 5, f.store.Get(testAccount))
}

func TestStopWhilePaused(t *testing.T) {
	t.Parallel()

	session := newFakeSession(5)
	f := newFixture(t, session)
	session.onFetch = func(position int) {
		if position == 1 {
			f.ctrl.Pause()
		}
	}

	require.NoError(t, f.ctrl.Start(context.Background(), f.request()))
	waitFor(t, f.ctrl, EventPaused)

	assert.True(t, f.ctrl.Stop())
	res := waitResult(t, f.ctrl)
	assert.True(t, res.Stopped)
	assert.Equal(t, 1, f.store.Get(testAccount))
}

func TestCancelWhilePaused(t *testing.T) {
	t.Parallel()

	session := newFakeSession(5)
	f := newFixture(t, session)
	session.onFetch = func(position int) {
		if position == 3 {
			f.ctrl.Pause()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.ctrl.Start(ctx, f.request()))
	waitFor(t, f.ctrl, EventPaused)

	cancel()
	res := waitResult(t, f.ctrl)
	assert.True(t, res.Stopped)
	assert.Equal(t, 3, f.store.Get(testAccount))
}

func TestStartValidatesInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newFakeSession(1))

	err := f.ctrl.Start(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"account", "password", "destination folder"}, vErr.Missing)
	assert.Zero(t, f.dialer.calls, "no connection attempt")
	assert.Equal(t, StateIdle, f.ctrl.State())
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	session := newFakeSession(3)
	f := newFixture(t, session)
	session.onFetch = func(position int) {
		if position == 1 {
			f.ctrl.Pause()
		}
	}

	require.NoError(t, f.ctrl.Start(context.Background(), f.request()))
	waitFor(t, f.ctrl, EventPaused)

	assert.ErrorIs(t, f.ctrl.Start(context.Background(), f.request()), ErrAlreadyRunning)

	f.ctrl.Resume()
	res := waitResult(t, f.ctrl)
	assert.True(t, res.Completed)
}

func TestConnectFailureEndsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.dialer.err = &mailbox.AuthError{Account: testAccount, Err: errors.New("invalid credentials")}

	res := f.run(t)
	require.Error(t, res.Err)
	assert.True(t, mailbox.IsAuthError(res.Err))
	assert.Zero(t, f.store.Get(testAccount))

	events := drain(f.ctrl)
	var fatal *Event
	for i := range events {
		if events[i].Fatal {
			fatal = &events[i]
		}
	}
	require.NotNil(t, fatal)
	assert.Equal(t, EventError, fatal.Kind)

	last := events[len(events)-1]
	assert.Equal(t, EventFinished, last.Kind)
	require.NotNil(t, last.Result)
	assert.Equal(t, res.Err, last.Result.Err)
}

func TestMailboxFailureAfterLoginEndsRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		prepare func(*fakeSession)
		check   func(error) bool
	}{
		"select": {
			prepare: func(s *fakeSession) {
				s.selectErr = &mailbox.FolderError{Folder: model.DefaultFolder, Err: errors.New("NO [NONEXISTENT] unknown mailbox")}
			},
			check: mailbox.IsFolderError,
		},
		"search": {
			prepare: func(s *fakeSession) {
				s.listErr = &mailbox.NetworkError{Op: "search", Addr: "imap.test:993", Err: errors.New("connection reset")}
			},
			check: mailbox.IsNetworkError,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			session := newFakeSession(3)
			tc.prepare(session)
			f := newFixture(t, session)
			require.NoError(t, f.store.Save(testAccount, 1))

			res := f.run(t)
			require.Error(t, res.Err)
			assert.True(t, tc.check(res.Err), "got %v", res.Err)
			assert.True(t, session.closed)
			assert.Empty(t, session.fetchedPositions())
			assert.Equal(t, StateIdle, f.ctrl.State())
			assert.Equal(t, 1, f.store.Get(testAccount))

			events := drain(f.ctrl)
			require.NotEmpty(t, events)
			assert.Contains(t, messages(events), "Closing the connection.")
			assert.Equal(t, EventFinished, events[len(events)-1].Kind)
		})
	}
}

func TestWriteFailureKeepsPreviousCheckpoint(t *testing.T) {
	t.Parallel()

	session := newFakeSession(3)
	f := newFixture(t, session)

	// A directory where the second attachment should go makes its write fail.
	blocker := filepath.Join(f.dest, "me", "file-02.txt")
	require.NoError(t, os.MkdirAll(blocker, 0o755))

	res := f.run(t)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "file-02.txt")
	assert.Equal(t, 1, f.store.Get(testAccount))
	assert.Equal(t, 1, res.LastIndex)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, []int{1, 2}, session.fetchedPositions())
	assert.True(t, session.closed)
	drain(f.ctrl)

	require.NoError(t, os.Remove(blocker))

	res = f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.StartIndex)
	assert.Equal(t, 3, f.store.Get(testAccount))
	assert.Equal(t, []int{1, 2, 2, 3}, session.fetchedPositions())

	data, err := os.ReadFile(filepath.Join(f.dest, "me", "file-02.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload 2", strings.TrimSpace(string(data)))
}

func TestCheckpointBeyondListingIsClamped(t *testing.T) {
	t.Parallel()

	session := newFakeSession(2)
	f := newFixture(t, session)
	require.NoError(t, f.store.Save(testAccount, 9))

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.True(t, res.Completed)
	assert.Empty(t, session.fetchedPositions())
	assert.Equal(t, 9, f.store.Get(testAccount), "checkpoint is not rewound")
}

func TestLedgerRecordsSavedFiles(t *testing.T) {
	t.Parallel()

	session := newFakeSession(2)
	f := newFixture(t, session)
	ledger := &memLedger{}
	f.ctrl.ledger = ledger

	f.run(t)

	require.Len(t, ledger.records, 2)
	assert.Equal(t, testAccount, ledger.records[0].Account)
	assert.Equal(t, 1, ledger.records[0].MessageIndex)
	assert.Equal(t, uint32(100), ledger.records[0].MessageUID)
	assert.Equal(t, "file-01.txt", ledger.records[0].Filename)
	assert.Equal(t, filepath.Join(f.dest, "me", "file-01.txt"), ledger.records[0].Path)
}

func TestStateTransitionsWhenIdle(t *testing.T) {
	t.Parallel()

	c := New(Options{Log: logging.Discard()})
	assert.False(t, c.Pause())
	assert.False(t, c.Resume())
	assert.False(t, c.Stop())
	assert.Equal(t, "idle", c.State().String())
}
