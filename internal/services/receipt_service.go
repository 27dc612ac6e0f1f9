package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"taxos/internal/amqp"
	"taxos/internal/cache"
	"taxos/internal/core"
	"taxos/internal/log"
	"taxos/internal/repository"
	"taxos/internal/storage"
)

// BucketResolver looks up the buckets allocations refer to
type BucketResolver interface {
	GetBucket(ctx context.Context, tenant core.TenantID, id core.BucketID) (core.Bucket, error)
	ListBuckets(ctx context.Context, tenant core.TenantID) ([]core.Bucket, error)
}

// IDGenerator hands out new receipt ids
type IDGenerator interface {
	NewReceiptID() (core.ReceiptID, error)
}

// IDGeneratorFunc adapts a function to IDGenerator
type IDGeneratorFunc func() (core.ReceiptID, error)

func (f IDGeneratorFunc) NewReceiptID() (core.ReceiptID, error) { return f() }

// EventPublisher sends change notifications. Failures never fail a write.
type EventPublisher interface {
	Publish(ctx context.Context, ev *amqp.Event) error
}

// ReceiptServiceConfig holds tuning for the receipt service
type ReceiptServiceConfig struct {
	// LoadConcurrency bounds parallel document reads during load and rebuild (default: 8)
	LoadConcurrency int

	// CacheSize is the number of tenant repositories kept in memory (default: 64)
	CacheSize int

	// CacheTTL is how long a loaded repository is reused; 0 disables caching (default: 5m)
	CacheTTL time.Duration
}

// DefaultReceiptServiceConfig returns sensible defaults
func DefaultReceiptServiceConfig() ReceiptServiceConfig {
	return ReceiptServiceConfig{
		LoadConcurrency: 8,
		CacheSize:       64,
		CacheTTL:        5 * time.Minute,
	}
}

// Option configures optional collaborators of the service
type Option func(*ReceiptService)

func WithIDGenerator(g IDGenerator) Option {
	return func(s *ReceiptService) { s.ids = g }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *ReceiptService) { s.publisher = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *ReceiptService) { s.logger = l }
}

// WithCacheManager registers the repository cache for periodic cleanup
func WithCacheManager(m *cache.Manager) Option {
	return func(s *ReceiptService) { s.cacheManager = m }
}

type tenantState struct {
	mu         sync.Mutex
	generation atomic.Uint64
}

// ReceiptService keeps receipt documents and the per-tenant month index in
// step, and answers queries from a cached in-memory repository.
type ReceiptService struct {
	layout    storage.Layout
	receipts  *storage.ReceiptStore
	index     *storage.IndexStore
	buckets   BucketResolver
	ids       IDGenerator
	publisher EventPublisher
	config    ReceiptServiceConfig

	logger       *log.Logger
	events       *log.StructuredLogger
	cacheManager *cache.Manager

	repos *cache.LRUCache[core.TenantID, *repository.Repository]
	loads singleflight.Group

	tenantsMu sync.Mutex
	tenants   map[core.TenantID]*tenantState
}

func NewReceiptService(layout storage.Layout, buckets BucketResolver, config ReceiptServiceConfig, opts ...Option) *ReceiptService {
	if config.LoadConcurrency < 1 {
		config.LoadConcurrency = 1
	}
	s := &ReceiptService{
		layout:   layout,
		receipts: storage.NewReceiptStore(layout),
		index:    storage.NewIndexStore(layout),
		buckets:  buckets,
		ids:      IDGeneratorFunc(core.NewReceiptID),
		config:   config,
		logger:   log.Discard(),
		tenants:  make(map[core.TenantID]*tenantState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentIndex)
	s.events = log.NewStructuredLogger(s.logger)

	if config.CacheTTL > 0 && config.CacheSize > 0 {
		s.repos = cache.NewLRUCache[core.TenantID, *repository.Repository](config.CacheSize, config.CacheTTL)
		if s.cacheManager != nil {
			s.cacheManager.Register(s.repos)
		}
	}
	return s
}

func (s *ReceiptService) state(tenant core.TenantID) *tenantState {
	s.tenantsMu.Lock()
	defer s.tenantsMu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok {
		st = &tenantState{}
		s.tenants[tenant] = st
	}
	return st
}

// Create validates input, writes a new document and indexes it.
func (s *ReceiptService) Create(ctx context.Context, tenant core.TenantID, in core.ReceiptInput) (core.Receipt, error) {
	if err := s.layout.RequireTenant(tenant); err != nil {
		return core.Receipt{}, err
	}
	id, err := s.ids.NewReceiptID()
	if err != nil {
		return core.Receipt{}, err
	}
	rec, err := core.NewReceipt(id, in)
	if err != nil {
		return core.Receipt{}, err
	}
	if err := s.requireBuckets(ctx, tenant, rec.Allocations); err != nil {
		return core.Receipt{}, err
	}

	st := s.state(tenant)
	st.mu.Lock()
	if err := s.receipts.Create(ctx, tenant, rec); err != nil {
		st.mu.Unlock()
		return core.Receipt{}, fmt.Errorf("create receipt: %w", err)
	}
	s.applyIndexLocked(ctx, tenant, st,
		func(ix storage.MonthIndex) bool {
			ix.Add(rec.Month(), rec.ID)
			return true
		},
		func(repo *repository.Repository) { s.addView(ctx, tenant, repo, rec) })
	st.mu.Unlock()

	s.logger.InfoContext(ctx, "Receipt created", log.FieldTenantID, tenant.String(),
		log.FieldReceiptID, rec.ID.String(), log.FieldMonth, rec.Month().String())
	s.publish(ctx, amqp.NewReceiptEvent(amqp.EventReceiptCreated, tenant, rec.ID, rec.Month()))
	return rec, nil
}

// Update applies patch to an existing receipt. The index follows the
// receipt when its month changes.
func (s *ReceiptService) Update(ctx context.Context, tenant core.TenantID, id core.ReceiptID, patch core.ReceiptPatch) (core.Receipt, error) {
	if err := s.layout.RequireTenant(tenant); err != nil {
		return core.Receipt{}, err
	}

	st := s.state(tenant)
	st.mu.Lock()
	existing, err := s.loadDocument(ctx, tenant, id)
	if err != nil {
		st.mu.Unlock()
		return core.Receipt{}, err
	}
	updated, err := patch.Apply(existing)
	if err != nil {
		st.mu.Unlock()
		return core.Receipt{}, err
	}
	if patch.Allocations != nil {
		if err := s.requireBuckets(ctx, tenant, updated.Allocations); err != nil {
			st.mu.Unlock()
			return core.Receipt{}, err
		}
	}
	if err := s.receipts.Save(ctx, tenant, updated); err != nil {
		st.mu.Unlock()
		return core.Receipt{}, fmt.Errorf("update receipt: %w", err)
	}
	s.applyIndexLocked(ctx, tenant, st,
		func(ix storage.MonthIndex) bool {
			ix.Move(existing.Month(), updated.Month(), updated.ID)
			return true
		},
		func(repo *repository.Repository) { s.addView(ctx, tenant, repo, updated) })
	st.mu.Unlock()

	oldMonth, newMonth := existing.Month(), updated.Month()
	s.logger.InfoContext(ctx, "Receipt updated", log.FieldTenantID, tenant.String(),
		log.FieldReceiptID, id.String(), log.FieldMonth, newMonth.String())
	s.publish(ctx, amqp.NewReceiptEvent(amqp.EventReceiptUpdated, tenant, id, oldMonth, newMonth))

	view := []core.Receipt{updated}
	s.zeroDangling(ctx, tenant, view)
	return view[0], nil
}

// Delete removes the receipt and its index entry. An index entry whose
// document is already gone is dropped too. Deleting an unknown id reports
// false without error.
func (s *ReceiptService) Delete(ctx context.Context, tenant core.TenantID, id core.ReceiptID) (bool, error) {
	if err := s.layout.RequireTenant(tenant); err != nil {
		return false, err
	}

	st := s.state(tenant)
	st.mu.Lock()
	var months []core.MonthKey
	if prev, err := s.receipts.Load(ctx, tenant, id); err == nil {
		months = append(months, prev.Month())
	}
	docRemoved, err := s.receipts.Delete(ctx, tenant, id)
	if err != nil {
		st.mu.Unlock()
		return false, fmt.Errorf("delete receipt: %w", err)
	}
	indexRemoved := false
	s.applyIndexLocked(ctx, tenant, st,
		func(ix storage.MonthIndex) bool {
			if m, ok := ix.MonthOf(id); ok {
				months = append(months, m)
				indexRemoved = ix.Remove(id)
			}
			return indexRemoved
		},
		func(repo *repository.Repository) { repo.Remove(id) })
	st.mu.Unlock()

	removed := docRemoved || indexRemoved
	if removed {
		s.logger.InfoContext(ctx, "Receipt deleted", log.FieldTenantID, tenant.String(), log.FieldReceiptID, id.String())
		s.publish(ctx, amqp.NewReceiptEvent(amqp.EventReceiptDeleted, tenant, id, months...))
	}
	return removed, nil
}

// Get returns one receipt as the repository presents it.
func (s *ReceiptService) Get(ctx context.Context, tenant core.TenantID, id core.ReceiptID) (core.Receipt, error) {
	repo, err := s.Repository(ctx, tenant)
	if err != nil {
		return core.Receipt{}, err
	}
	rec, ok := repo.Get(id)
	if !ok {
		return core.Receipt{}, fmt.Errorf("receipt %s: %w", id, core.ErrNotFound)
	}
	return rec, nil
}

// List returns receipts matching filter ordered by date then id.
func (s *ReceiptService) List(ctx context.Context, tenant core.TenantID, filter core.ListFilter) ([]core.Receipt, error) {
	repo, err := s.Repository(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return repo.Select(filter), nil
}

// Unallocated returns the receipts of months still carrying an unassigned
// remainder.
func (s *ReceiptService) Unallocated(ctx context.Context, tenant core.TenantID, months []core.MonthKey) ([]core.UnallocatedReceipt, error) {
	repo, err := s.Repository(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return unallocatedView(repo.Select(core.ListFilter{Months: months, UnallocatedOnly: true})), nil
}

func unallocatedView(recs []core.Receipt) []core.UnallocatedReceipt {
	out := make([]core.UnallocatedReceipt, 0, len(recs))
	for _, r := range recs {
		if core.IsUnallocated(r) {
			out = append(out, core.NewUnallocatedReceipt(r))
		}
	}
	return out
}

// Dashboard summarizes allocations per bucket for months (all months when
// empty), with the unallocated view and vendor names alongside.
func (s *ReceiptService) Dashboard(ctx context.Context, tenant core.TenantID, months []core.MonthKey) (core.Dashboard, error) {
	repo, err := s.Repository(ctx, tenant)
	if err != nil {
		return core.Dashboard{}, err
	}
	buckets, err := s.buckets.ListBuckets(ctx, tenant)
	if err != nil {
		return core.Dashboard{}, fmt.Errorf("list buckets: %w", err)
	}

	selected := months
	if len(selected) == 0 {
		selected = repo.Months()
	} else {
		selected = slices.Clone(selected)
		slices.Sort(selected)
		selected = slices.Compact(selected)
	}
	recs := repo.Select(core.ListFilter{Months: selected})

	summaries := make([]core.BucketSummary, len(buckets))
	pos := make(map[core.BucketID]int, len(buckets))
	for i, b := range buckets {
		summaries[i] = core.BucketSummary{BucketID: b.ID, Name: b.Name, Total: core.Zero}
		pos[b.ID] = i
	}
	for _, r := range recs {
		for _, a := range r.Allocations {
			i, ok := pos[a.Bucket]
			if !ok {
				continue
			}
			summaries[i].Total = summaries[i].Total.Add(a.Amount)
			summaries[i].Count++
		}
	}

	return core.Dashboard{
		Months:      selected,
		Buckets:     summaries,
		Unallocated: unallocatedView(recs),
		VendorNames: vendorNames(recs),
	}, nil
}

// Vendors returns the distinct vendor names of every receipt.
func (s *ReceiptService) Vendors(ctx context.Context, tenant core.TenantID) ([]string, error) {
	repo, err := s.Repository(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return vendorNames(repo.Select(core.ListFilter{})), nil
}

func vendorNames(recs []core.Receipt) []string {
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.Vendor != "" {
			names = append(names, r.Vendor)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return slices.Compact(names)
}

// Rebuild discards the index and recreates it from the documents.
func (s *ReceiptService) Rebuild(ctx context.Context, tenant core.TenantID) (*repository.Repository, error) {
	if err := s.layout.RequireTenant(tenant); err != nil {
		return nil, err
	}
	st := s.state(tenant)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.rebuildLocked(ctx, tenant, st, "forced")
}

// Invalidate drops the cached repository of tenant.
func (s *ReceiptService) Invalidate(tenant core.TenantID) {
	s.state(tenant).generation.Add(1)
	if s.repos != nil {
		s.repos.Delete(tenant)
	}
}

// Repository returns the tenant's repository, loading it through the index
// or rebuilding it when the index is unusable.
func (s *ReceiptService) Repository(ctx context.Context, tenant core.TenantID) (*repository.Repository, error) {
	if err := s.layout.RequireTenant(tenant); err != nil {
		return nil, err
	}
	if s.repos != nil {
		if repo, ok := s.repos.Get(tenant); ok {
			return repo, nil
		}
	}

	v, err, _ := s.loads.Do(tenant.String(), func() (any, error) {
		st := s.state(tenant)
		gen := st.generation.Load()
		repo, err := s.load(ctx, tenant, st)
		if err != nil {
			return nil, err
		}
		if s.repos != nil && st.generation.Load() == gen {
			s.repos.Set(tenant, repo)
		}
		return repo, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*repository.Repository), nil
}

func (s *ReceiptService) load(ctx context.Context, tenant core.TenantID, st *tenantState) (*repository.Repository, error) {
	ix, err := s.index.Load(ctx, tenant)
	if err != nil {
		if !errors.Is(err, storage.ErrIndexUnavailable) {
			return nil, err
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		// another caller may have rebuilt while we waited
		if ix, err = s.index.Load(ctx, tenant); err != nil {
			s.logger.WarnContext(ctx, "Receipt index unavailable, rebuilding",
				log.FieldTenantID, tenant.String(), log.FieldError, err.Error())
			return s.rebuildLocked(ctx, tenant, st, "index unavailable")
		}
	}

	ids := make([]core.ReceiptID, 0, ix.Len())
	for _, monthIDs := range ix {
		ids = append(ids, monthIDs...)
	}
	repo, _, err := s.hydrate(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "Receipt repository loaded",
		log.FieldTenantID, tenant.String(), log.FieldReceipts, repo.Len())
	return repo, nil
}

// rebuildLocked must run with st.mu held.
func (s *ReceiptService) rebuildLocked(ctx context.Context, tenant core.TenantID, st *tenantState, reason string) (*repository.Repository, error) {
	start := time.Now()
	ids, err := s.receipts.IDs(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	repo, skipped, err := s.hydrate(ctx, tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	s.saveIndexLocked(ctx, tenant, repo.Index())
	st.generation.Add(1)
	if s.repos != nil {
		s.repos.Set(tenant, repo)
	}

	months := repo.Months()
	s.events.LogRebuild(ctx, tenant.String(), reason, repo.Len(), skipped, len(months), time.Since(start).Milliseconds())
	s.publish(ctx, amqp.NewIndexRebuiltEvent(tenant, months))
	return repo, nil
}

// hydrate loads ids in parallel into a fresh repository. Unreadable
// documents are logged and skipped; only cancellation aborts.
func (s *ReceiptService) hydrate(ctx context.Context, tenant core.TenantID, ids []core.ReceiptID) (*repository.Repository, int, error) {
	loaded := make([]core.Receipt, len(ids))
	ok := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.LoadConcurrency)
	for i, id := range ids {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := s.receipts.Load(gctx, tenant, id)
			if err != nil {
				s.logger.WarnContext(gctx, "Skipping unreadable receipt",
					log.FieldTenantID, tenant.String(), log.FieldReceiptID, id.String(), log.FieldError, err.Error())
				return nil
			}
			loaded[i], ok[i] = rec, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	recs := make([]core.Receipt, 0, len(ids))
	for i := range loaded {
		if ok[i] {
			recs = append(recs, loaded[i])
		}
	}
	s.zeroDangling(ctx, tenant, recs)

	repo := repository.New()
	for _, r := range recs {
		repo.Add(r)
	}
	return repo, len(ids) - len(recs), nil
}

// zeroDangling sets the amount of allocations whose bucket no longer
// exists to zero, in place. The row itself is kept.
func (s *ReceiptService) zeroDangling(ctx context.Context, tenant core.TenantID, recs []core.Receipt) {
	exists := make(map[core.BucketID]bool)
	for i := range recs {
		for j, a := range recs[i].Allocations {
			found, seen := exists[a.Bucket]
			if !seen {
				_, err := s.buckets.GetBucket(ctx, tenant, a.Bucket)
				found = !errors.Is(err, core.ErrNotFound)
				exists[a.Bucket] = found
			}
			if !found {
				recs[i].Allocations[j].Amount = core.Zero
			}
		}
	}
}

func (s *ReceiptService) requireBuckets(ctx context.Context, tenant core.TenantID, allocs []core.Allocation) error {
	for _, a := range allocs {
		if _, err := s.buckets.GetBucket(ctx, tenant, a.Bucket); err != nil {
			return fmt.Errorf("allocation bucket: %w", err)
		}
	}
	return nil
}

// loadDocument hides corrupt documents behind core.ErrNotFound.
func (s *ReceiptService) loadDocument(ctx context.Context, tenant core.TenantID, id core.ReceiptID) (core.Receipt, error) {
	rec, err := s.receipts.Load(ctx, tenant, id)
	if errors.Is(err, core.ErrCorruptState) {
		s.logger.WarnContext(ctx, "Receipt document unreadable",
			log.FieldTenantID, tenant.String(), log.FieldReceiptID, id.String(), log.FieldError, err.Error())
		return core.Receipt{}, fmt.Errorf("receipt %s: %w", id, core.ErrNotFound)
	}
	return rec, err
}

// applyIndexLocked brings the persisted index and the cached repository in
// line with a document write that already happened. mutateIndex reports
// whether it changed the index; an unchanged index is not rewritten. Must
// run with st.mu held.
func (s *ReceiptService) applyIndexLocked(ctx context.Context, tenant core.TenantID, st *tenantState,
	mutateIndex func(storage.MonthIndex) bool, mutateRepo func(*repository.Repository)) {
	// Bumped on both sides of the index write: a load that read the old
	// index must not find its generation unchanged and cache a stale view.
	st.generation.Add(1)
	defer st.generation.Add(1)

	ix, err := s.index.Load(ctx, tenant)
	if err != nil {
		s.logger.WarnContext(ctx, "Receipt index unavailable at write, rebuilding",
			log.FieldTenantID, tenant.String(), log.FieldError, err.Error())
		if _, err := s.rebuildLocked(context.WithoutCancel(ctx), tenant, st, "index unavailable at write"); err != nil {
			s.dropIndexLocked(ctx, tenant, err)
		}
		return
	}
	if mutateIndex(ix) {
		s.saveIndexLocked(ctx, tenant, ix)
	}

	if s.repos == nil {
		return
	}
	if repo, ok := s.repos.Get(tenant); ok {
		mutateRepo(repo)
	}
}

func (s *ReceiptService) addView(ctx context.Context, tenant core.TenantID, repo *repository.Repository, rec core.Receipt) {
	view := []core.Receipt{rec.Clone()}
	s.zeroDangling(ctx, tenant, view)
	repo.Add(view[0])
}

func (s *ReceiptService) saveIndexLocked(ctx context.Context, tenant core.TenantID, ix storage.MonthIndex) {
	if err := s.index.Save(ctx, tenant, ix); err != nil {
		s.dropIndexLocked(ctx, tenant, err)
	}
}

// dropIndexLocked removes the index after a failed write so the next read
// rebuilds from documents.
func (s *ReceiptService) dropIndexLocked(ctx context.Context, tenant core.TenantID, cause error) {
	s.events.LogError(ctx, "Receipt index write failed", cause, log.ComponentIndex, log.OpIndex,
		log.NewFields().WithTenant(tenant.String()))
	if err := s.index.Remove(ctx, tenant); err != nil {
		s.events.LogError(ctx, "Failed to remove stale receipt index", err, log.ComponentIndex, log.OpIndex,
			log.NewFields().WithTenant(tenant.String()))
	}
	if s.repos != nil {
		s.repos.Delete(tenant)
	}
}

func (s *ReceiptService) publish(ctx context.Context, ev *amqp.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish receipt event",
			log.FieldEventType, string(ev.Type), log.FieldTenantID, ev.TenantID, log.FieldError, err.Error())
	}
}
