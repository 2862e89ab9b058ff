package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"cyberguard-progress-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ModuleLoader fetches module content from the backing store.
type ModuleLoader interface {
	LoadModule(ctx context.Context, moduleID string) (domain.Module, error)
	LoadModules(ctx context.Context) ([]domain.Module, error)
}

const allModulesKey = "*"

// ModuleRepository caches modules with a jittered TTL and collapses concurrent misses.
type ModuleRepository struct {
	loader ModuleLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu      sync.RWMutex
	modules map[string]cachedModule
	list    *cachedList
}

type cachedModule struct {
	module    domain.Module
	expiresAt time.Time
}

type cachedList struct {
	modules   []domain.Module
	expiresAt time.Time
}

func NewModuleRepository(loader ModuleLoader, ttl time.Duration) *ModuleRepository {
	return &ModuleRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		modules: make(map[string]cachedModule),
	}
}

func (r *ModuleRepository) GetModule(ctx context.Context, moduleID string) (domain.Module, error) {
	if m, ok := r.cachedModule(moduleID); ok {
		return m, nil
	}

	result, err, _ := r.sf.Do(moduleID, func() (interface{}, error) {
		if m, ok := r.cachedModule(moduleID); ok {
			return m, nil
		}
		m, err := r.loader.LoadModule(ctx, moduleID)
		if err != nil {
			return domain.Module{}, err
		}
		r.mu.Lock()
		r.modules[moduleID] = cachedModule{module: m, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return domain.Module{}, err
	}
	return result.(domain.Module), nil
}

func (r *ModuleRepository) ListModules(ctx context.Context) ([]domain.Module, error) {
	r.mu.RLock()
	if r.list != nil && r.list.expiresAt.After(r.clock()) {
		mods := r.list.modules
		r.mu.RUnlock()
		return mods, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(allModulesKey, func() (interface{}, error) {
		mods, err := r.loader.LoadModules(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.list = &cachedList{modules: mods, expiresAt: r.clock().Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return mods, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Module), nil
}

// Invalidate drops every cached entry.
func (r *ModuleRepository) Invalidate() {
	r.mu.Lock()
	r.modules = make(map[string]cachedModule)
	r.list = nil
	r.mu.Unlock()
}

func (r *ModuleRepository) cachedModule(moduleID string) (domain.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.modules[moduleID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Module{}, false
	}
	return entry.module, true
}

func (r *ModuleRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticModuleLoader serves a fixed module set. Used for demos and tests.
type StaticModuleLoader struct {
	modules []domain.Module
	byID    map[string]domain.Module
}

func NewStaticModuleLoader(modules []domain.Module) *StaticModuleLoader {
	byID := make(map[string]domain.Module, len(modules))
	for _, m := range modules {
		byID[m.ID] = m
	}
	return &StaticModuleLoader{modules: modules, byID: byID}
}

func (l *StaticModuleLoader) LoadModule(_ context.Context, moduleID string) (domain.Module, error) {
	if m, ok := l.byID[moduleID]; ok {
		return m, nil
	}
	return domain.Module{}, domain.ErrModuleNotFound
}

func (l *StaticModuleLoader) LoadModules(_ context.Context) ([]domain.Module, error) {
	return append([]domain.Module(nil), l.modules...), nil
}
