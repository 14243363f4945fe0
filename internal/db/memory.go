package db

import (
	"context"
	"sync"
)

// Memory keeps records in process. Records still pass through the CBOR
// codec so callers never share values with the store.
type Memory struct {
	mu    sync.Mutex
	colls map[string]*memColl
}

type memColl struct {
	order  []string
	bodies map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{colls: make(map[string]*memColl)}
}

func (m *Memory) Gateway(opts Options) *Gateway {
	return assemble(recordCollections(m), opts, nil)
}

func (m *Memory) coll(name string) *memColl {
	c, ok := m.colls[name]
	if !ok {
		c = &memColl{bodies: make(map[string][]byte)}
		m.colls[name] = c
	}
	return c
}

func (m *Memory) list(_ context.Context, coll string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(coll)
	out := make([][]byte, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.bodies[id])
	}
	return out, nil
}

func (m *Memory) insert(_ context.Context, coll, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(coll)
	if _, ok := c.bodies[id]; ok {
		return ErrExists
	}
	c.order = append(c.order, id)
	c.bodies[id] = body
	return nil
}

func (m *Memory) replace(_ context.Context, coll, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(coll)
	if _, ok := c.bodies[id]; !ok {
		return ErrNotFound
	}
	c.bodies[id] = body
	return nil
}

func (m *Memory) remove(_ context.Context, coll, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(coll)
	if _, ok := c.bodies[id]; !ok {
		return nil
	}
	delete(c.bodies, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
