// Package download runs the resumable attachment download: it walks a
// mailbox from the account's checkpoint forward, writes every attachment to
// disk and records a new checkpoint after each message.
package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/emailflesh/internal/extract"
	"github.com/nhle/emailflesh/internal/mailbox"
	"github.com/nhle/emailflesh/internal/model"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped // stop requested, worker finishing its current message
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ProgressStore is the checkpoint persistence the worker needs.
type ProgressStore interface {
	Get(account string) int
	Save(account string, index int) error
}

// Ledger records saved attachments. Optional.
type Ledger interface {
	RecordDownload(ctx context.Context, rec model.DownloadRecord) error
}

// Request is everything Start needs from the user.
type Request struct {
	Credentials model.Credentials
	Destination string
}

// Result summarises a finished run.
type Result struct {
	Account    string
	Total      int // messages in the listing
	StartIndex int // checkpoint when the run began
	LastIndex  int // checkpoint when the run ended
	Processed  int // messages checkpointed during this run
	Skipped    int // messages whose fetch failed
	Saved      int // attachment files written
	Stopped    bool
	Completed  bool
	Err        error
}

// Options wires a Controller.
type Options struct {
	Dialer   mailbox.Dialer
	Progress ProgressStore
	Ledger   Ledger
	Log      logrus.FieldLogger

	// Folder is the mailbox folder to scan; defaults to "inbox".
	Folder string

	// EventBuffer sizes the event channel; defaults to 256.
	EventBuffer int
}

// Controller owns one download at a time. Start spawns the worker; Pause,
// Resume and Stop flip flags the worker checks once per message. Events
// must be drained by the caller.
type Controller struct {
	dialer   mailbox.Dialer
	progress ProgressStore
	ledger   Ledger
	log      logrus.FieldLogger
	folder   string
	now      func() time.Time
	events   chan Event

	stopRequested atomic.Bool

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	paused bool
	done   chan struct{}
	result Result
}

// New creates an idle controller.
func New(opts Options) *Controller {
	folder := opts.Folder
	if folder == "" {
		folder = model.DefaultFolder
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Controller{
		dialer:   opts.Dialer,
		progress: opts.Progress,
		ledger:   opts.Ledger,
		log:      log,
		folder:   folder,
		now:      time.Now,
		events:   make(chan Event, buffer),
	}
	c.cond = sync.NewCond(&c.mu)

	closed := make(chan struct{})
	close(closed)
	c.done = closed

	return c
}

// Events returns the worker's event stream. It is never closed; a run ends
// with an EventFinished event.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start validates req and launches the worker. It fails with
// *ValidationError when a required field is empty and with
// ErrAlreadyRunning when a run is active.
func (c *Controller) Start(ctx context.Context, req Request) error {
	if err := validate(req); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateRunning
	c.paused = false
	c.stopRequested.Store(false)
	c.done = make(chan struct{})
	c.result = Result{}
	c.mu.Unlock()

	go c.run(ctx, req)
	return nil
}

// Pause suspends the worker before its next message. It reports whether
// the call changed anything.
func (c *Controller) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return false
	}
	c.paused = true
	c.state = StatePaused
	return true
}

// Resume wakes a paused worker.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return false
	}
	c.paused = false
	c.state = StateRunning
	c.cond.Broadcast()
	return true
}

// Stop asks the worker to finish its current message and exit. A paused
// worker is woken so it can exit.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning && c.state != StatePaused {
		return false
	}
	c.stopRequested.Store(true)
	c.paused = false
	c.state = StateStopped
	c.cond.Broadcast()
	return true
}

// Done is closed when the current (or last) run has finished.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until the current run finishes and returns its result.
func (c *Controller) Wait() Result {
	<-c.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.Credentials.Account) == "" {
		missing = append(missing, "account")
	}
	if req.Credentials.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(req.Destination) == "" {
		missing = append(missing, "destination folder")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// run is the worker body.
func (c *Controller) run(ctx context.Context, req Request) {
	account := req.Credentials.Account
	res := Result{Account: account}
	log := c.log.WithField("account", account)

	defer func() {
		c.emit(log, Event{Kind: EventFinished, Account: account, Message: summary(res), Result: &res})
		c.finish(res)
	}()

	fatal := func(err error) {
		res.Err = err
		c.emit(log, Event{Kind: EventError, Account: account, Message: "Error: " + err.Error(), Err: err, Fatal: true})
	}
	info := func(format string, args ...any) {
		c.emit(log, Event{Kind: EventInfo, Account: account, Message: fmt.Sprintf(format, args...)})
	}

	info("Connecting to the email server...")
	sess, err := c.dialer.Connect(ctx, req.Credentials)
	if err != nil {
		fatal(err)
		return
	}
	defer func() {
		info("Closing the connection.")
		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("closing IMAP session")
		}
	}()
	info("Logged in successfully.")

	info("Selecting the %s...", c.folder)
	if err := sess.SelectFolder(ctx, c.folder); err != nil {
		fatal(err)
		return
	}

	info("Searching for emails...")
	refs, err := sess.ListAll(ctx)
	if err != nil {
		fatal(err)
		return
	}
	res.Total = len(refs)
	info("Found %d emails.", len(refs))

	start := c.progress.Get(account)
	res.StartIndex = start
	res.LastIndex = start
	if start > 0 {
		info("Resuming from email %d.", start+1)
	}
	if start > len(refs) {
		c.emit(log, Event{
			Kind:    EventWarning,
			Account: account,
			Message: fmt.Sprintf("Checkpoint %d is beyond the %d emails in the mailbox; nothing to do.", start, len(refs)),
		})
		start = len(refs)
	}

	outDir := accountDir(req.Destination, account)
	info("Using folder: %s", outDir)
	if err := os.MkdirAll(outDir, outputDirMode); err != nil {
		fatal(fmt.Errorf("creating folder %s: %w", outDir, err))
		return
	}

	for _, ref := range refs[start:] {
		if c.stopRequested.Load() || ctx.Err() != nil {
			res.Stopped = true
			break
		}
		if !c.waitWhilePaused(ctx, log, account) {
			res.Stopped = true
			break
		}

		c.emit(log, Event{
			Kind:    EventProgress,
			Account: account,
			Index:   ref.Position,
			Total:   len(refs),
			Message: fmt.Sprintf("Processing email %d/%d...", ref.Position, len(refs)),
		})

		raw, err := sess.FetchRaw(ctx, ref)
		if err != nil {
			if mailbox.IsNetworkError(err) {
				fatal(err)
				return
			}
			res.Skipped++
			c.emit(log, Event{
				Kind:    EventWarning,
				Account: account,
				Index:   ref.Position,
				Err:     err,
				Message: fmt.Sprintf("Failed to fetch email %d. Skipping...", ref.Position),
			})
			continue
		}

		saved, err := c.saveAttachments(ctx, log, account, outDir, ref, raw)
		res.Saved += saved
		if err != nil {
			fatal(err)
			return
		}

		// Save failures are logged by the store; the run carries on.
		if err := c.progress.Save(account, ref.Position); err != nil {
			c.emit(log, Event{
				Kind:    EventWarning,
				Account: account,
				Index:   ref.Position,
				Err:     err,
				Message: fmt.Sprintf("Could not save progress for email %d: %v", ref.Position, err),
			})
		}
		res.LastIndex = ref.Position
		res.Processed++
	}

	if res.Stopped {
		c.emit(log, Event{Kind: EventStopped, Account: account, Message: "Download stopped by user."})
		return
	}

	res.Completed = true
	c.emit(log, Event{Kind: EventCompleted, Account: account, Message: "All emails processed."})
}

// saveAttachments writes every attachment of one message. A malformed
// message is logged and treated as having no further attachments; a
// failed write ends the run so the message is retried next time.
func (c *Controller) saveAttachments(
	ctx context.Context,
	log logrus.FieldLogger,
	account, outDir string,
	ref model.MessageRef,
	raw []byte,
) (int, error) {
	saved := 0
	for part, err := range extract.Attachments(bytes.NewReader(raw)) {
		if err != nil {
			c.emit(log, Event{
				Kind:    EventWarning,
				Account: account,
				Index:   ref.Position,
				Err:     err,
				Message: fmt.Sprintf("Could not parse email %d: %v", ref.Position, err),
			})
			break
		}

		c.emit(log, Event{
			Kind:    EventInfo,
			Account: account,
			Index:   ref.Position,
			Message: "Downloading attachment: " + part.Filename,
		})

		path, err := writeAttachment(outDir, part)
		if err != nil {
			return saved, err
		}
		saved++

		c.emit(log, Event{
			Kind:    EventAttachment,
			Account: account,
			Index:   ref.Position,
			File:    path,
			Message: "Saved attachment to: " + path,
		})

		if c.ledger == nil {
			continue
		}
		err = c.ledger.RecordDownload(ctx, model.DownloadRecord{
			Account:      account,
			MessageIndex: ref.Position,
			MessageUID:   ref.UID,
			Filename:     part.Filename,
			Path:         path,
			Size:         int64(len(part.Payload)),
			SavedAt:      c.now(),
		})
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("failed to record download history")
		}
	}
	return saved, nil
}

// waitWhilePaused blocks until Resume, Stop or ctx cancellation. It
// returns false when the worker should exit instead of continuing.
func (c *Controller) waitWhilePaused(ctx context.Context, log logrus.FieldLogger, account string) bool {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if !paused {
		return true
	}

	c.emit(log, Event{Kind: EventPaused, Account: account, Message: "Paused. Waiting to resume..."})

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	for c.paused && !c.stopRequested.Load() && ctx.Err() == nil {
		c.cond.Wait()
	}
	c.mu.Unlock()

	if c.stopRequested.Load() || ctx.Err() != nil {
		return false
	}

	c.emit(log, Event{Kind: EventResumed, Account: account, Message: "Resumed."})
	return true
}

// finish records the result and returns the controller to idle.
func (c *Controller) finish(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.result = res
	c.state = StateIdle
	c.paused = false
	close(c.done)
}

// emit logs ev and hands it to the event channel. It blocks while the
// channel is full.
func (c *Controller) emit(log logrus.FieldLogger, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}

	entry := log.WithField("event", ev.Kind.String())
	if ev.Index > 0 {
		entry = entry.WithField("index", ev.Index)
	}
	if ev.File != "" {
		entry = entry.WithField("file", ev.File)
	}
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}

	switch ev.Kind {
	case EventError:
		entry.Error(ev.Message)
	case EventWarning:
		entry.Warn(ev.Message)
	case EventProgress, EventAttachment:
		entry.Debug(ev.Message)
	default:
		entry.Info(ev.Message)
	}

	c.events <- ev
}

func summary(res Result) string {
	switch {
	case res.Err != nil:
		return fmt.Sprintf("Run failed after %d emails: %v", res.Processed, res.Err)
	case res.Stopped:
		return fmt.Sprintf("Stopped at email %d of %d (%d attachments saved).", res.LastIndex, res.Total, res.Saved)
	default:
		return fmt.Sprintf("Done: %d emails processed, %d skipped, %d attachments saved.", res.Processed, res.Skipped, res.Saved)
	}
}
