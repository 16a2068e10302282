// Package objects is the world object registry the bridge writes inbound
// world updates into.
package objects

import (
	"sort"
	"sync"
)

type Vec3 [3]float32

// Object is one tracked world object.
type Object interface {
	ID() string
	Translation() Vec3
	SetTranslation(Vec3)
}

// Registry is what the frame synchronizer needs from a world object store.
type Registry interface {
	Lookup(id string) (Object, bool)
	Create(id string, t Vec3) Object
}

// Manager is an in-memory Registry safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	objects map[string]*entry
	onWrite func(id string, t Vec3)
}

type entry struct {
	m  *Manager
	id string

	mu sync.RWMutex
	t  Vec3
}

func NewManager() *Manager {
	return &Manager{objects: map[string]*entry{}}
}

// OnWrite registers fn to run after every create or translation write.
// It must be set before the manager is shared.
func (m *Manager) OnWrite(fn func(id string, t Vec3)) { m.onWrite = fn }

func (m *Manager) Lookup(id string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.objects[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// Create adds an object at t. Creating an existing id moves that object
// instead of adding a second one.
func (m *Manager) Create(id string, t Vec3) Object {
	m.mu.Lock()
	e, ok := m.objects[id]
	if !ok {
		e = &entry{m: m, id: id}
		m.objects[id] = e
	}
	m.mu.Unlock()
	e.SetTranslation(t)
	return e
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Snapshot is one object's id and translation.
type Snapshot struct {
	ID          string `json:"id"`
	Translation Vec3   `json:"translation"`
}

// List returns all objects sorted by id.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.objects))
	for id, e := range m.objects {
		out = append(out, Snapshot{ID: id, Translation: e.Translation()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *entry) ID() string { return e.id }

func (e *entry) Translation() Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.t
}

func (e *entry) SetTranslation(t Vec3) {
	e.mu.Lock()
	e.t = t
	e.mu.Unlock()
	if e.m.onWrite != nil {
		e.m.onWrite(e.id, t)
	}
}
