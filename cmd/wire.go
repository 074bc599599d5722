package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/emailflesh/internal/credential"
	"github.com/nhle/emailflesh/internal/logging"
	"github.com/nhle/emailflesh/internal/mailbox"
	"github.com/nhle/emailflesh/internal/model"
	"github.com/nhle/emailflesh/internal/progress"
	"github.com/nhle/emailflesh/internal/store"
)

// passwordEnv lets scripts supply the app password without a flag.
const passwordEnv = "EMAILFLESH_PASSWORD"

type app struct {
	configPath string
	verbose    bool

	cfg      *model.AppConfig
	log      *logrus.Logger
	closeLog func() error
	progress *progress.Store
	dialer   mailbox.Dialer

	openCredentials func() (*credential.Store, error)
	openLedger      func(path string) (store.Store, error)
	newDialer       func(cfg model.IMAPConfig) mailbox.Dialer
	now             func() time.Time
}

type appOption func(*app)

func withCredentials(open func() (*credential.Store, error)) appOption {
	return func(a *app) { a.openCredentials = open }
}

func withDialer(d mailbox.Dialer) appOption {
	return func(a *app) {
		a.newDialer = func(model.IMAPConfig) mailbox.Dialer { return d }
	}
}

func newApp(opts ...appOption) *app {
	a := &app{
		configPath:      model.DefaultConfigPath(),
		closeLog:        func() error { return nil },
		openCredentials: credential.Open,
		openLedger: func(path string) (store.Store, error) {
			return store.NewSQLiteStore(path)
		},
		newDialer: func(cfg model.IMAPConfig) mailbox.Dialer {
			return mailbox.NewIMAPDialer(cfg)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// load reads the config and builds the logger, progress store and dialer.
// console receives log entries in addition to the log file; nil keeps the
// terminal clean for the TUI.
func (a *app) load(console io.Writer) error {
	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	if !a.verbose {
		console = nil
	}
	a.log, a.closeLog = logging.New(logging.OptionsFromConfig(cfg.Log, console))
	a.log.WithField("config", a.configPath).Debug("configuration loaded")

	a.progress = progress.Load(cfg.Progress.Path, a.log)
	a.dialer = a.newDialer(cfg.IMAP)
	return nil
}

func (a *app) close() {
	if err := a.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}
}

// ledger opens the download history. Failures are logged and reported as
// nil so a broken database never blocks a download.
func (a *app) ledger() store.Store {
	s, err := a.openLedger(a.cfg.History.Path)
	if err != nil {
		a.log.WithError(err).WithField("path", a.cfg.History.Path).Warn("download history unavailable")
		return nil
	}
	return s
}

// resolveCredentials fills the password from the environment or the
// keyring when it was not given on the command line.
func (a *app) resolveCredentials(account, password string) model.Credentials {
	creds := model.Credentials{Account: account, Password: password}
	if creds.Password == "" {
		creds.Password = os.Getenv(passwordEnv)
	}
	if creds.Password != "" || creds.Account == "" {
		return creds
	}

	ring, err := a.openCredentials()
	if err != nil {
		a.log.WithError(err).Debug("keyring unavailable")
		return creds
	}
	resolved, err := ring.Resolve(creds)
	if err != nil {
		a.log.WithError(err).WithField("account", account).Warn("failed to read stored password")
		return creds
	}
	return resolved
}
