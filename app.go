package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kwv/changemesh/overlay"
)

// App wires the overlay engine to its optional collaborators: the
// in-memory registry, the SQLite store and the MQTT publisher.
type App struct {
	Config    *overlay.Config
	Registry  *overlay.Registry
	Store     *overlay.ResultStore
	Publisher *overlay.ResultPublisher
}

// NewApp returns an App with an empty registry sized from cfg.
func NewApp(cfg *overlay.Config) *App {
	if cfg == nil {
		cfg = overlay.DefaultConfig()
	}
	return &App{
		Config:   cfg,
		Registry: overlay.NewRegistry(cfg.Server.MaxResults),
	}
}

// OpenStore opens and migrates the configured SQLite store. It is a no-op
// when no path is configured.
func (a *App) OpenStore(ctx context.Context) error {
	path := a.Config.Store.SQLitePath
	if path == "" {
		return nil
	}
	st, err := overlay.OpenResultStore(path)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return err
	}
	a.Store = st
	zap.L().Info("result store opened", zap.String("path", path))
	return nil
}

// ConnectPublisher connects to the configured broker. It is a no-op when
// no broker is configured.
func (a *App) ConnectPublisher() error {
	client, err := overlay.ConnectMQTT(a.Config.MQTT)
	if err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	a.Publisher = overlay.NewResultPublisher(client, a.Config.MQTT.PublishPrefix)
	return nil
}

// Analyze runs one analysis, registers the result and hands it to the store
// and publisher when they are configured. Store failures are returned;
// publish failures are only logged.
func (a *App) Analyze(ctx context.Context, before, after overlay.PolygonSet, attribute string) (string, *overlay.AnalysisResult, error) {
	result, err := overlay.Analyze(ctx, before, after, a.Config.Options(attribute))
	if err != nil {
		return "", nil, err
	}

	id := overlay.NewRunID()
	if a.Store != nil {
		if _, err := a.Store.SaveResult(ctx, id, result); err != nil {
			return "", nil, eris.Wrap(err, "app: save result")
		}
	}
	a.Registry.Put(id, result)

	if a.Publisher != nil {
		if err := a.Publisher.Publish(id, result); err != nil {
			zap.L().Warn("publishing summary failed", zap.String("id", id), zap.Error(err))
		}
	}
	return id, result, nil
}

// Lookup finds a result in the registry, falling back to the store.
func (a *App) Lookup(ctx context.Context, id string) (*overlay.AnalysisResult, bool, error) {
	if sr, ok := a.Registry.Get(id); ok {
		return sr.Result, true, nil
	}
	if a.Store == nil {
		return nil, false, nil
	}
	result, err := a.Store.LoadResult(ctx, id)
	if err != nil {
		if eris.Is(err, overlay.ErrRunNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	a.Registry.Put(id, result)
	return result, true, nil
}

// Close releases the store and the broker connection.
func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			zap.L().Warn("closing result store", zap.Error(err))
		}
	}
}
