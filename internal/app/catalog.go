package app

import (
	"context"
	"sort"

	"cyberguard-progress-service/internal/domain"
)

// Catalog is the read-only module view the pipeline works against. Inactive modules are invisible.
type Catalog struct {
	source ModuleSource
}

func NewCatalog(source ModuleSource) *Catalog {
	return &Catalog{source: source}
}

func (c *Catalog) GetModule(ctx context.Context, moduleID string) (domain.Module, error) {
	m, err := c.source.GetModule(ctx, moduleID)
	if err != nil {
		return domain.Module{}, err
	}
	if !m.IsActive {
		return domain.Module{}, domain.ErrModuleNotFound
	}
	return m, nil
}

// List returns active modules ordered by level, then order.
func (c *Catalog) List(ctx context.Context) ([]domain.Module, error) {
	all, err := c.source.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Module, 0, len(all))
	for _, m := range all {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := levelIndex(out[i].Level), levelIndex(out[j].Level)
		if li != lj {
			return li < lj
		}
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *Catalog) ListByLevel(ctx context.Context, level domain.Level) ([]domain.Module, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Module, 0, len(all))
	for _, m := range all {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Catalog) CountByLevel(ctx context.Context, level domain.Level) (int, error) {
	mods, err := c.ListByLevel(ctx, level)
	return len(mods), err
}

func (c *Catalog) CountAll(ctx context.Context) (int, error) {
	mods, err := c.List(ctx)
	return len(mods), err
}

// Levels maps module id to level for every active module.
func (c *Catalog) Levels(ctx context.Context) (map[string]domain.Level, error) {
	mods, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Level, len(mods))
	for _, m := range mods {
		out[m.ID] = m.Level
	}
	return out, nil
}

func levelIndex(l domain.Level) int {
	for i, v := range domain.Levels {
		if v == l {
			return i
		}
	}
	return len(domain.Levels)
}
