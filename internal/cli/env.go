package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dcshock/mlpipe/artifact"
	"github.com/dcshock/mlpipe/internal/settings"
	"github.com/dcshock/mlpipe/logging"
	"github.com/dcshock/mlpipe/observer"
	"github.com/dcshock/mlpipe/pipeline"
	"github.com/dcshock/mlpipe/store"
	"github.com/dcshock/mlpipe/store/memory"
	"github.com/dcshock/mlpipe/store/sqlstore"
	"go.uber.org/zap"
)

type storeOpener func(ctx context.Context, cfg settings.StoreConfig) (store.Store, error)

// openStore opens the metadata store of a profile. For sqlite the database
// directory is created first.
func openStore(ctx context.Context, cfg settings.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case settings.DriverMemory:
		return memory.New(), nil
	case sqlstore.SQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
	}
	return sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
}

// env is what a command needs from the active profile.
type env struct {
	profile *settings.Profile
	store   store.Store
	log     *zap.Logger
}

func (o *rootOptions) env(ctx context.Context) (*env, error) {
	s, err := settings.Load(o.settingsPath)
	if err != nil {
		return nil, err
	}
	// first use: write the defaults so the profiles can be edited
	if _, err := os.Stat(s.Path()); errors.Is(err, os.ErrNotExist) {
		if err := s.Save(); err != nil {
			return nil, err
		}
		logging.L().Debug("wrote default settings", zap.String("path", s.Path()))
	}
	p, err := s.Profile(o.profile)
	if err != nil {
		return nil, err
	}
	st, err := o.openStore(ctx, p.Store)
	if err != nil {
		return nil, fmt.Errorf("open metadata store for profile '%s': %w", p.Name, err)
	}
	log := logging.L().With(zap.String("profile", p.Name))
	return &env{profile: p, store: st, log: log}, nil
}

func (e *env) Close() error { return e.store.Close() }

func (e *env) printActiveProfile(w io.Writer) {
	fmt.Fprintf(w, "Running with active profile: '%s'\n", e.profile.Name)
}

func (e *env) artifacts() *artifact.Store {
	return artifact.NewLocalStore(e.profile.ArtifactRoot)
}

// observers returns the observer for pipeline runs and the metadata observer,
// which also records artifacts.
func (e *env) observers() (pipeline.Observer, *observer.MetadataObserver) {
	meta := observer.NewMetadataObserver(e.store, e.profile.Stack, e.profile.Project)
	return pipeline.MultiObserver(meta, observer.NewLogObserver(e.log), observer.NewMetricsObserver()), meta
}
