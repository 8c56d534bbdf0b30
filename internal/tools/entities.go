package tools

import (
	"sort"
	"strings"
	"sync"
)

type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntityContext remembers entities resolved earlier in a call so later
// function calls in the same call can reuse them.
type EntityContext struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

func NewEntityContext() *EntityContext {
	return &EntityContext{entities: make(map[string]Entity)}
}

func (c *EntityContext) Remember(e Entity) {
	if c == nil || strings.TrimSpace(e.ID) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.ID] = e
}

func (c *EntityContext) Lookup(id string) (Entity, bool) {
	if c == nil {
		return Entity{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	return e, ok
}

// FindByName does a case-insensitive exact match on the entity name.
func (c *EntityContext) FindByName(name string) (Entity, bool) {
	if c == nil {
		return Entity{}, false
	}
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entities {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Entity{}, false
}

func (c *EntityContext) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Snapshot returns the known entities sorted by id.
func (c *EntityContext) Snapshot() []Entity {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	out := make([]Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
