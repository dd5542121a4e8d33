package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/dispatcher"
	"github.com/jmylchreest/camarr/internal/journal"
	"github.com/jmylchreest/camarr/internal/library"
	"github.com/jmylchreest/camarr/internal/poller"
	"github.com/jmylchreest/camarr/internal/state"
	"github.com/jmylchreest/camarr/internal/transport"
)

// app bundles the client-side components a command run needs. One-shot
// commands prime the snapshot store with a single synchronous poll before
// dispatching; watch runs the poll loop instead.
type app struct {
	cfg        *config.Config
	client     *transport.Client
	store      *state.Store
	poller     *poller.Poller
	dispatcher *dispatcher.Dispatcher

	journalDB *journal.DB
	commands  journal.CommandRepository
	media     journal.MediaRepository
}

// newDeviceClient builds the typed device client from configuration.
func newDeviceClient(cfg *config.Config) (*transport.Client, error) {
	client, err := transport.New(transport.Config{
		BaseURL:   cfg.Device.BaseURL,
		AuthToken: cfg.Device.AuthToken,
		Timeout:   cfg.Device.Timeout,
		Logger:    slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating device client: %w", err)
	}
	return client, nil
}

// newApp assembles the client stack from the resolved configuration.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()

	client, err := newDeviceClient(cfg)
	if err != nil {
		return nil, err
	}

	store := state.NewStore().WithLogger(logger)
	p := poller.New(client, store).
		WithLogger(logger).
		WithConfig(cfg.Poller)
	d := dispatcher.New(client, store).
		WithLogger(logger).
		WithRefresher(p)

	a := &app{
		cfg:        cfg,
		client:     client,
		store:      store,
		poller:     p,
		dispatcher: d,
	}

	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal, logger)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.journalDB = db
		a.commands = journal.NewCommandRepository(db)
		a.media = journal.NewMediaRepository(db)
		d.WithJournal(a.commands)
	}

	return a, nil
}

// Close releases held resources.
func (a *app) Close() {
	if a.journalDB != nil {
		if err := a.journalDB.Close(); err != nil {
			slog.Default().Warn("closing journal", slog.String("error", err.Error()))
		}
	}
}

// refresh primes the snapshot store with one synchronous poll so dispatch
// preconditions are checked against current device state.
func (a *app) refresh(ctx context.Context) error {
	if _, err := a.poller.RefreshNow(ctx); err != nil {
		return fmt.Errorf("refreshing device state: %w", err)
	}
	return nil
}

// library assembles the media library on top of the journal's media index.
func (a *app) library() (*library.Library, error) {
	if a.media == nil {
		return nil, fmt.Errorf("the media library requires journal.enabled")
	}
	return library.New(a.client, a.media).
		WithLogger(slog.Default()).
		WithConfig(a.cfg.Library), nil
}
