package stores

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	pe "wuyrush.io/plakat/errors"
)

// subscriber buffer; a subscriber lagging further behind loses changes
const memorySubBufferSize = 256

// MemoryGateway is a Gateway holding rows in process memory. It is meant for development and tests.
type MemoryGateway struct {
	mu   sync.Mutex
	rows map[string]Record
	subs map[*memorySub]struct{}
	// Now is the clock used to stamp created_at
	Now func() time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		rows: map[string]Record{},
		subs: map[*memorySub]struct{}{},
		Now:  time.Now,
	}
}

func (g *MemoryGateway) List(ctx context.Context) ([]Record, *pe.PinErr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := make([]Record, 0, len(g.rows))
	for _, r := range g.rows {
		rs = append(rs, r.copy())
	}
	sortByCreatedAtDesc(rs)
	return rs, nil
}

func (g *MemoryGateway) Insert(ctx context.Context, r Record) (Record, *pe.PinErr) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return nil, pe.ErrServiceFailure("error generating pin id").WithCause(err)
	}
	row := stamp(r, id.String(), g.Now())
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows[row.ID()] = row
	g.publish(Change{Type: ChangeInsert, New: row.copy()})
	return row.copy(), nil
}

func (g *MemoryGateway) Delete(ctx context.Context, id string) (bool, *pe.PinErr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok {
		return false, nil
	}
	delete(g.rows, id)
	g.publish(Change{Type: ChangeDelete, Old: row.copy()})
	return true, nil
}

// Put replaces or adds a row as-is and announces it as an update or insert, like a write made by
// another client of the backend would.
func (g *MemoryGateway) Put(r Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	typ := ChangeInsert
	old, ok := g.rows[r.ID()]
	if ok {
		typ = ChangeUpdate
	}
	g.rows[r.ID()] = r.copy()
	g.publish(Change{Type: typ, New: r.copy(), Old: old})
}

// caller must hold g.mu
func (g *MemoryGateway) publish(c Change) {
	for s := range g.subs {
		select {
		case s.ch <- c:
		default:
			log.WithField("changeType", c.Type).Warn("memory gateway subscriber lagging behind, dropping change")
		}
	}
}

func (g *MemoryGateway) Subscribe(ctx context.Context) (Subscription, *pe.PinErr) {
	s := &memorySub{g: g, ch: make(chan Change, memorySubBufferSize), done: make(chan struct{})}
	g.mu.Lock()
	g.subs[s] = struct{}{}
	g.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (g *MemoryGateway) Close() *pe.PinErr {
	g.mu.Lock()
	subs := make([]*memorySub, 0, len(g.subs))
	for s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return nil
}

type memorySub struct {
	g    *MemoryGateway
	ch   chan Change
	done chan struct{}
	once sync.Once
}

func (s *memorySub) Changes() <-chan Change {
	return s.ch
}

func (s *memorySub) Close() *pe.PinErr {
	s.once.Do(func() {
		s.g.mu.Lock()
		delete(s.g.subs, s)
		close(s.ch)
		s.g.mu.Unlock()
		close(s.done)
	})
	return nil
}
