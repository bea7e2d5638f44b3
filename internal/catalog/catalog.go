// Package catalog holds the registry of purchasable verification services.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/digkill/IMEICheckBot/internal/models"
)

var (
	ErrDuplicateID    = errors.New("service id already exists")
	ErrNotFound       = errors.New("service not found")
	ErrInvalidService = errors.New("invalid service")
)

// Store persists the whole catalog.
type Store interface {
	Load(ctx context.Context) ([]models.Service, error)
	Save(ctx context.Context, services []models.Service) error
}

// Catalog owns the service list. The category index is derived from it and
// rebuilt on every mutation.
type Catalog struct {
	store Store

	mu         sync.RWMutex
	services   []models.Service
	byID       map[int64]int
	byCategory map[string][]int
	categories []string
}

func New(store Store) *Catalog {
	c := &Catalog{store: store}
	c.rebuild(nil)
	return c
}

func (c *Catalog) Load(ctx context.Context) error {
	services, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	for i, svc := range services {
		svc = normalize(svc)
		if err := check(svc); err != nil {
			return fmt.Errorf("load services: service %d: %w", svc.ID, err)
		}
		services[i] = svc
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuild(services)
	return nil
}

// Seed fills an empty catalog and persists it once. A non-empty catalog is left untouched.
func (c *Catalog) Seed(ctx context.Context, services []models.Service) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.services) > 0 {
		return 0, nil
	}

	seen := make(map[int64]struct{}, len(services))
	next := make([]models.Service, 0, len(services))
	for _, svc := range services {
		svc = normalize(svc)
		if err := check(svc); err != nil {
			return 0, err
		}
		if _, dup := seen[svc.ID]; dup {
			return 0, fmt.Errorf("%w: %d", ErrDuplicateID, svc.ID)
		}
		seen[svc.ID] = struct{}{}
		next = append(next, svc)
	}
	if err := c.store.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("save services: %w", err)
	}
	c.rebuild(next)
	return len(next), nil
}

func (c *Catalog) Add(ctx context.Context, svc models.Service) error {
	svc = normalize(svc)
	if err := check(svc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[svc.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, svc.ID)
	}

	next := make([]models.Service, 0, len(c.services)+1)
	next = append(next, c.services...)
	next = append(next, svc)
	if err := c.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save services: %w", err)
	}
	c.rebuild(next)
	return nil
}

func (c *Catalog) Remove(ctx context.Context, id int64) (models.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byID[id]
	if !ok {
		return models.Service{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	removed := c.services[idx]

	next := make([]models.Service, 0, len(c.services)-1)
	next = append(next, c.services[:idx]...)
	next = append(next, c.services[idx+1:]...)
	if err := c.store.Save(ctx, next); err != nil {
		return models.Service{}, fmt.Errorf("save services: %w", err)
	}
	c.rebuild(next)
	return removed, nil
}

func (c *Catalog) ByID(id int64) (models.Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[id]
	if !ok {
		return models.Service{}, false
	}
	return c.services[idx], true
}

func (c *Catalog) ByCategory(name string) []models.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idxs := c.byCategory[name]
	out := make([]models.Service, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, c.services[idx])
	}
	return out
}

// Categories lists categories in the order they first appear in the catalog.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.categories...)
}

func (c *Catalog) List() []models.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Service(nil), c.services...)
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.services)
}

// rebuild must be called with mu held for writing.
func (c *Catalog) rebuild(services []models.Service) {
	c.services = services
	c.byID = make(map[int64]int, len(services))
	c.byCategory = make(map[string][]int)
	c.categories = nil
	for i, svc := range services {
		c.byID[svc.ID] = i
		if _, ok := c.byCategory[svc.Category]; !ok {
			c.categories = append(c.categories, svc.Category)
		}
		c.byCategory[svc.Category] = append(c.byCategory[svc.Category], i)
	}
}

func normalize(svc models.Service) models.Service {
	svc.Title = strings.TrimSpace(svc.Title)
	svc.Category = strings.TrimSpace(svc.Category)
	return svc
}

func check(svc models.Service) error {
	switch {
	case svc.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidService)
	case svc.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidService)
	case !svc.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive", ErrInvalidService)
	case !models.WholeCents(svc.Price):
		return fmt.Errorf("%w: price must have at most two decimal places", ErrInvalidService)
	case svc.Category == "":
		return fmt.Errorf("%w: category is required", ErrInvalidService)
	}
	return nil
}
