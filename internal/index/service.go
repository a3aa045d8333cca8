package index

import (
	"context"
	"log/slog"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
)

// Provider enumerates the current content of the platform. It is only used
// for rebuilds and attachment listing.
type Provider interface {
	// Enumerate returns every entity of the given tenants, or of all tenants
	// when tenants is empty.
	Enumerate(ctx context.Context, tenants []string) ([]entity.Entity, error)
	// Attachments returns the attachments of page.
	Attachments(ctx context.Context, page entity.Base) ([]*entity.Attachment, error)
}

// ReindexOptions selects what a reindex covers.
type ReindexOptions struct {
	// Tenants restricts enumeration. Empty means all tenants.
	Tenants []string
	// Clear starts a new generation and drops pending work. It is only
	// allowed for a full reindex.
	Clear bool
	// OnlyNew schedules only entities that have no document in the index
	// yet. It cannot be combined with Clear.
	OnlyNew bool
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Worker   WorkerConfig
	Provider Provider
	Logger   *slog.Logger
}

// Service is the API producers use to keep the index in sync.
type Service struct {
	worker   *Worker
	engine   Engine
	provider Provider
	logger   *slog.Logger
}

// NewService wires a worker over engine. publisher and cfg.Provider may be nil.
func NewService(engine Engine, builder DocumentBuilder, publisher Publisher, cfg ServiceConfig) *Service {
	logger := logging.OrDefault(cfg.Logger)
	if cfg.Worker.Logger == nil {
		cfg.Worker.Logger = logger
	}
	return &Service{
		worker:   NewWorker(engine, builder, publisher, cfg.Worker),
		engine:   engine,
		provider: cfg.Provider,
		logger:   logger,
	}
}

// Start runs the worker. When the engine's directory was just created or
// recovered from corruption and a provider is configured, every entity is
// scheduled for indexing before Start returns.
func (s *Service) Start(ctx context.Context) error {
	s.worker.Start(ctx)

	if !s.engine.Fresh() || s.provider == nil {
		return nil
	}
	n, err := s.Reindex(ctx, ReindexOptions{})
	if err != nil {
		return err
	}
	s.logger.Info("initial_index_scheduled", slog.String("dir", s.engine.Dir()), slog.Int("count", n))
	return nil
}

// Enqueue schedules e for indexing. A pending entity with the same id is
// replaced.
func (s *Service) Enqueue(e entity.Entity) {
	if e == nil {
		return
	}
	s.worker.Add(e)
}

// EnqueueAttachment schedules one attachment of page.
func (s *Service) EnqueueAttachment(page entity.Base, att *entity.Attachment) {
	if att == nil {
		return
	}
	a := *att
	a.Tenant, a.Space, a.Name, a.Locale = page.Tenant, page.Space, page.Name, page.Locale
	if a.Title == "" {
		a.Title = page.Title
	}
	s.worker.Add(&a)
}

// EnqueueAllAttachments schedules every attachment of page and returns how
// many were queued.
func (s *Service) EnqueueAllAttachments(ctx context.Context, page entity.Base) (int, error) {
	if s.provider == nil {
		return 0, errNoProvider
	}
	atts, err := s.provider.Attachments(ctx, page)
	if err != nil {
		return 0, wserrors.New(wserrors.ErrCodeEnumerateFails, "failed to list attachments", err).
			WithDetail("page", page.PageID())
	}
	for _, a := range atts {
		s.EnqueueAttachment(page, a)
	}
	return len(atts), nil
}

// EnqueueDelete schedules removal of page, its objects document and the
// named attachments.
func (s *Service) EnqueueDelete(page entity.Base, attachments ...string) {
	s.worker.Add(&entity.Tombstone{TargetID: page.PageID()})
	s.worker.Add(&entity.Tombstone{TargetID: entity.ObjectsID(page)})
	for _, name := range attachments {
		s.worker.Add(&entity.Tombstone{TargetID: entity.AttachmentID(page, name)})
	}
}

// Rebuild re-indexes everything into a new generation. It returns once the
// entities are scheduled; the new generation becomes searchable after they
// are committed.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	return s.Reindex(ctx, ReindexOptions{Clear: true})
}

// Reindex enumerates entities on the calling goroutine and schedules them.
func (s *Service) Reindex(ctx context.Context, opts ReindexOptions) (int, error) {
	if s.provider == nil {
		return 0, errNoProvider
	}
	if opts.Clear && len(opts.Tenants) > 0 {
		return 0, wserrors.ValidationError("clearing the index requires reindexing every tenant", nil).
			WithSuggestion("drop the tenant list or the clear flag")
	}

	if opts.Clear && opts.OnlyNew {
		return 0, wserrors.ValidationError("a cleared index has no existing documents to skip", nil).
			WithSuggestion("drop the only-new or the clear flag")
	}

	entities, err := s.provider.Enumerate(ctx, opts.Tenants)
	if err != nil {
		return 0, wserrors.New(wserrors.ErrCodeEnumerateFails, "failed to enumerate content", err)
	}
	if opts.OnlyNew {
		if entities, err = s.skipIndexed(ctx, entities); err != nil {
			return 0, err
		}
	}
	return s.worker.Rebuild(ctx, entities, opts.Clear)
}

// skipIndexed drops the entities whose id already has a committed document.
func (s *Service) skipIndexed(ctx context.Context, entities []entity.Entity) ([]entity.Entity, error) {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID()
	}
	existing, err := s.engine.Existing(ctx, ids)
	if err != nil {
		return nil, err
	}

	kept := entities[:0:0]
	for _, e := range entities {
		if !existing[e.ID()] {
			kept = append(kept, e)
		}
	}
	s.logger.Debug("reindex_only_new",
		slog.Int("enumerated", len(entities)),
		slog.Int("new", len(kept)))
	return kept, nil
}

// QueueDepth returns the number of pending entities.
func (s *Service) QueueDepth() int { return s.worker.QueueDepth() }

// Stats returns the worker counters.
func (s *Service) Stats() Stats { return s.worker.Stats() }

// WaitIdle blocks until everything queued so far is committed.
func (s *Service) WaitIdle(ctx context.Context) error { return s.worker.WaitIdle(ctx) }

// Shutdown stops the worker after its current batch is committed.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.worker.Stop(ctx)
}

var errNoProvider = wserrors.ConfigurationError("no content provider configured", nil).
	WithSuggestion("set source.path in wikisearch.yaml")
