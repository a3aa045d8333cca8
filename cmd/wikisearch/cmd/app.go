package cmd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/query"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/source"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

// shutdownTimeout bounds the final commit when a command exits.
const shutdownTimeout = 30 * time.Second

// app holds the components a command runs on. engine, content and service
// are nil in read-only mode.
type app struct {
	env      *env
	engine   *store.Engine
	content  *source.Store
	service  *index.Service
	pool     *search.Pool
	searcher *search.Federated
	queries  *query.Builder

	closeOnce sync.Once
}

// openReader opens every configured directory read-only.
func openReader(e *env) (*app, error) {
	pool, err := search.NewPool(e.cfg.Index.Dirs, search.PoolOptions{
		Registry: entity.NewFieldRegistry(),
		Logger:   e.logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		env:      e,
		pool:     pool,
		searcher: search.NewFederated(pool, e.logger),
		queries:  query.NewBuilder(pool.Registry(), e.cfg.Search.DefaultOperator),
	}, nil
}

// openWriter takes the writer lock on the first directory, opens the content
// store and wires the indexing service. The service is not started.
func openWriter(e *env) (*app, error) {
	cfg := e.cfg

	engine, err := store.OpenEngine(cfg.WriterDir(), store.Options{Analyzer: cfg.Index.Analyzer, Logger: e.logger})
	if err != nil {
		return nil, err
	}

	content, err := source.Open(cfg.Source.Path, e.logger)
	if err != nil {
		_ = engine.Close()
		return nil, wserrors.ConfigurationError("cannot open content store", err).
			WithDetail("path", cfg.Source.Path)
	}

	pool, err := search.NewPool(cfg.Index.Dirs, search.PoolOptions{
		Writer:   engine,
		Registry: entity.NewFieldRegistry(),
		Logger:   e.logger,
	})
	if err != nil {
		_ = content.Close()
		_ = engine.Close()
		return nil, err
	}

	commitDelay, _ := cfg.CommitDelay()
	builder := entity.NewBuilder(
		entity.WithExtractor(entity.NewCachedExtractor(entity.PlainTextExtractor{}, cfg.Indexing.ExtractionCacheSize)),
		entity.WithRegistry(pool.Registry()),
		entity.WithLogger(e.logger),
	)
	service := index.NewService(engine, builder, pool, index.ServiceConfig{
		Worker: index.WorkerConfig{
			BatchSize:   cfg.Indexing.BatchSize,
			CommitDelay: commitDelay,
			OnCommitFailure: func(ids []string, err error) {
				e.logger.Warn("batch_dropped", append(wserrors.LogAttrs(err), slog.Int("documents", len(ids)))...)
			},
		},
		Provider: content,
		Logger:   e.logger,
	})

	return &app{
		env:      e,
		engine:   engine,
		content:  content,
		service:  service,
		pool:     pool,
		searcher: search.NewFederated(pool, e.logger),
		queries:  query.NewBuilder(pool.Registry(), cfg.Search.DefaultOperator),
	}, nil
}

// handler exposes the app through the request handler the server uses, so
// that local commands and served requests share one code path.
func (a *app) handler() *daemon.Handler {
	h := &daemon.Handler{
		Searcher:   a.searcher,
		Builder:    a.queries,
		Pool:       a.pool,
		MaxResults: a.env.cfg.Search.MaxResults,
		Logger:     a.env.logger,
	}
	if a.service != nil {
		h.Indexer = a.service
		h.Content = a.content
	}
	return h
}

// close stops the worker after its final commit, then releases every
// handle and the writer lock. It is safe to call more than once.
func (a *app) close() {
	a.closeOnce.Do(a.shutdown)
}

func (a *app) shutdown() {
	if a.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.service.Shutdown(ctx); err != nil {
			a.env.logger.Warn("shutdown_incomplete", wserrors.LogAttrs(err)...)
		}
		cancel()
	}
	a.pool.Close()
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.env.logger.Warn("engine_close_failed", slog.String("error", err.Error()))
		}
	}
	if a.content != nil {
		_ = a.content.Close()
	}
}
