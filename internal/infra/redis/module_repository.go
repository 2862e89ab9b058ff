package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"cyberguard-progress-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ModuleLoader fetches module content from the system of record.
type ModuleLoader interface {
	LoadModule(ctx context.Context, moduleID string) (domain.Module, error)
	LoadModules(ctx context.Context) ([]domain.Module, error)
}

// ModuleRepository caches modules in Redis as JSON and falls back to a loader on miss.
// Modules are stored as:  SET module:{moduleID} {json}
// The catalog listing as: SET modules:all {json array}
type ModuleRepository struct {
	client *redis.Client
	loader ModuleLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewModuleRepository(client *redis.Client, loader ModuleLoader, ttl time.Duration) *ModuleRepository {
	return &ModuleRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ModuleRepository) GetModule(ctx context.Context, moduleID string) (domain.Module, error) {
	var m domain.Module
	if r.cached(ctx, moduleKey(moduleID), &m) {
		return m, nil
	}

	result, err, _ := r.sf.Do(moduleKey(moduleID), func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		var m domain.Module
		if r.cached(ctx, moduleKey(moduleID), &m) {
			return m, nil
		}
		m, err := r.loader.LoadModule(ctx, moduleID)
		if err != nil {
			return domain.Module{}, err
		}
		r.store(ctx, moduleKey(moduleID), m)
		return m, nil
	})
	if err != nil {
		return domain.Module{}, err
	}
	return result.(domain.Module), nil
}

func (r *ModuleRepository) ListModules(ctx context.Context) ([]domain.Module, error) {
	var mods []domain.Module
	if r.cached(ctx, allModulesKey, &mods) {
		return mods, nil
	}

	result, err, _ := r.sf.Do(allModulesKey, func() (interface{}, error) {
		mods, err := r.loader.LoadModules(ctx)
		if err != nil {
			return nil, err
		}
		r.store(ctx, allModulesKey, mods)
		return mods, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Module), nil
}

// Invalidate drops the listing and the named modules, e.g. after a reseed.
func (r *ModuleRepository) Invalidate(ctx context.Context, moduleIDs ...string) error {
	keys := []string{allModulesKey}
	for _, id := range moduleIDs {
		keys = append(keys, moduleKey(id))
	}
	return r.client.Del(ctx, keys...).Err()
}

// cached decodes key into dst. Redis errors count as a miss so the loader still serves.
func (r *ModuleRepository) cached(ctx context.Context, key string, dst any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *ModuleRepository) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
}

func (r *ModuleRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

const allModulesKey = "modules:all"

func moduleKey(moduleID string) string {
	return "module:" + moduleID
}
