// Package app assembles a sync Engine from configuration: the sqlite
// stores, the connectivity probe, and the object-store remote writer
// behind its rate limiter and circuit breaker.
package app

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/kimhsiao/memonexus/syncengine/internal/config"
	"github.com/kimhsiao/memonexus/syncengine/internal/connectivity"
	"github.com/kimhsiao/memonexus/syncengine/internal/db"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/conflict"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/s3"
)

// ErrNoRemote is the transient failure reported for every mutation when no
// remote endpoint is configured. Mutations stay queued.
var ErrNoRemote = errors.New("no remote endpoint configured")

// Options adjust how the engine is built.
type Options struct {
	// AssumeOnline replaces the TCP probe with a source that is always online.
	AssumeOnline bool
	// Remote overrides the configured remote writer.
	Remote remote.Writer
	// EngineOptions are appended after the configuration-derived options.
	EngineOptions []sync.Option
}

// App owns an engine and the database behind it.
type App struct {
	Engine  *sync.Engine
	DB      *db.DB
	Breaker *remote.Breaker // nil when Options.Remote was supplied
}

// Build opens the database in cfg.DataDir and wires an engine over it.
// The engine is not started.
func Build(cfg config.Config, opts Options) (*App, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{DB: database}

	writer := opts.Remote
	if writer == nil {
		writer, a.Breaker, err = buildRemote(cfg)
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	var source connectivity.Source
	if opts.AssumeOnline {
		source = connectivity.NewManualSource(true)
	} else {
		source = connectivity.NewProbeSource(connectivity.ProbeConfig{
			Address:  cfg.Connectivity.ProbeAddress,
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
		})
	}

	engineOpts := append([]sync.Option{sync.WithSyncInterval(cfg.SyncInterval)}, opts.EngineOptions...)
	a.Engine = sync.New(sync.Deps{
		Queue:        db.NewQueueStore(database),
		Cache:        db.NewCacheStore(database),
		Remote:       writer,
		Connectivity: source,
		Policy:       Policy(cfg.ConflictStrategy),
	}, engineOpts...)

	return a, nil
}

// Start starts the engine. A store that cannot be read is logged and
// returned; the engine keeps serving status and enqueue calls.
func (a *App) Start(ctx context.Context) error {
	return a.Engine.Start(ctx)
}

// Close closes the engine, then the database.
func (a *App) Close() error {
	var result *multierror.Error
	if err := a.Engine.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.DB.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Policy maps a configured strategy name to a conflict policy. Blank and
// unknown names leave conflicts unresolved.
func Policy(strategy string) conflict.Policy {
	var choice conflict.Choice
	switch conflict.ResolutionStrategy(strategy) {
	case conflict.ResolutionStrategyUseLocal:
		choice = conflict.UseLocal()
	case conflict.ResolutionStrategyUseRemote:
		choice = conflict.UseRemote()
	default:
		return nil
	}
	return func(*conflict.Conflict) conflict.Choice { return choice }
}

func buildRemote(cfg config.Config) (remote.Writer, *remote.Breaker, error) {
	if !cfg.HasRemote() {
		logging.Warn("No remote endpoint configured, mutations will stay queued", nil)
		return remote.Func(func(context.Context, remote.Mutation) remote.Result {
			return remote.Transient(ErrNoRemote)
		}), nil, nil
	}

	store, err := s3.NewMinIOStore(&s3.MinIOConfig{
		Endpoint:   cfg.Remote.Endpoint,
		BucketName: cfg.Remote.Bucket,
		Prefix:     cfg.Remote.Prefix,
		AccessKey:  cfg.Remote.AccessKey,
		SecretKey:  cfg.Remote.SecretKey,
		UseSSL:     cfg.Remote.UseSSL,
		Region:     cfg.Remote.Region,
	})
	if err != nil {
		return nil, nil, err
	}

	limited := remote.NewRateLimited(s3.NewWriter(store, cfg.Remote.Prefix), cfg.Remote.RateLimit, cfg.Remote.Burst)
	breaker := remote.NewBreaker(limited, remote.BreakerConfig{
		Name:        "remote-writer",
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	})

	logging.Info("Remote writer configured",
		map[string]interface{}{
			"endpoint":   cfg.Remote.Endpoint,
			"bucket":     cfg.Remote.Bucket,
			"rate_limit": cfg.Remote.RateLimit,
		})
	return breaker, breaker, nil
}
