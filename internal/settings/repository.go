package settings

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/radiusdt/adperf/internal/models"
)

// ErrNotFound is returned when a delete or lookup targets no row.
var ErrNotFound = errors.New("settings row not found")

// Reader exposes the settings tables consumed by the loader.
type Reader interface {
	ListClients(ctx context.Context) ([]models.ClientSettings, error)
	ListUnits(ctx context.Context) ([]models.UnitAssignment, error)
	ListThresholds(ctx context.Context) ([]models.KPIThreshold, error)
}

// Repository is the mutable settings store behind the editor.
type Repository interface {
	Reader
	UpsertClient(ctx context.Context, c *models.ClientSettings) error
	DeleteClient(ctx context.Context, clientName string) error
	UpsertUnit(ctx context.Context, u *models.UnitAssignment) error
	DeleteUnit(ctx context.Context, id string) error
	UpsertThreshold(ctx context.Context, t *models.KPIThreshold) error
	DeleteThreshold(ctx context.Context, key models.KPIKey) error
}

// MemoryRepo is a thread-safe in-memory Repository. It is used when no
// database is configured, seeded from the warehouse settings tables.
type MemoryRepo struct {
	mu         sync.RWMutex
	clients    map[string]models.ClientSettings
	units      map[string]models.UnitAssignment
	thresholds map[models.KPIKey]models.KPIThreshold
}

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		clients:    make(map[string]models.ClientSettings),
		units:      make(map[string]models.UnitAssignment),
		thresholds: make(map[models.KPIKey]models.KPIThreshold),
	}
}

func (r *MemoryRepo) ListClients(context.Context) ([]models.ClientSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]models.ClientSettings, 0, len(r.clients))
	for _, c := range r.clients {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ClientName < res[j].ClientName })
	return res, nil
}

func (r *MemoryRepo) ListUnits(context.Context) ([]models.UnitAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]models.UnitAssignment, 0, len(r.units))
	for _, u := range r.units {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Owner != res[j].Owner {
			return res[i].Owner < res[j].Owner
		}
		return res[i].StartMonth.Before(res[j].StartMonth)
	})
	return res, nil
}

func (r *MemoryRepo) ListThresholds(context.Context) ([]models.KPIThreshold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]models.KPIThreshold, 0, len(r.thresholds))
	for _, t := range r.thresholds {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return keyLess(res[i].KPIKey, res[j].KPIKey) })
	return res, nil
}

func (r *MemoryRepo) UpsertClient(_ context.Context, c *models.ClientSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ClientName] = *c
	return nil
}

func (r *MemoryRepo) DeleteClient(_ context.Context, clientName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientName]; !ok {
		return ErrNotFound
	}
	delete(r.clients, clientName)
	return nil
}

func (r *MemoryRepo) UpsertUnit(_ context.Context, u *models.UnitAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u.ID] = *u
	return nil
}

func (r *MemoryRepo) DeleteUnit(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[id]; !ok {
		return ErrNotFound
	}
	delete(r.units, id)
	return nil
}

func (r *MemoryRepo) UpsertThreshold(_ context.Context, t *models.KPIThreshold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[t.KPIKey] = *t
	return nil
}

func (r *MemoryRepo) DeleteThreshold(_ context.Context, key models.KPIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.thresholds[key]; !ok {
		return ErrNotFound
	}
	delete(r.thresholds, key)
	return nil
}

func keyLess(a, b models.KPIKey) bool {
	if a.Medium != b.Medium {
		return a.Medium < b.Medium
	}
	if a.MainCategory != b.MainCategory {
		return a.MainCategory < b.MainCategory
	}
	if a.SubCategory != b.SubCategory {
		return a.SubCategory < b.SubCategory
	}
	return a.AdObjective < b.AdObjective
}
