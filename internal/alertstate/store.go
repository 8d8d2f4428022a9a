// Package alertstate holds the per-sonde, per-criterion alert state used to
// de-duplicate notifications.
//
// State is striped across a fixed number of shards keyed by a hash of the
// object ID. All reads and writes for one object happen under its shard lock,
// so a whole event is applied atomically while different sondes proceed in
// parallel.
package alertstate

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

// Entry is the state of one (object, criterion) pair.
type Entry struct {
	// Armed is true once a notification fired and the object has not yet
	// left the envelope.
	Armed    bool
	FiredAt  time.Time
	LastSeen time.Time
	// MissSince is when the armed criterion first stopped matching; zero
	// while it still matches. Used to debounce clearing.
	MissSince time.Time
}

// Object is all alert state held for one sonde, keyed by criterion name.
type Object struct {
	LastSeen time.Time
	Criteria map[string]Entry
}

type shard struct {
	mu      sync.Mutex
	objects map[string]*Object
}

// Store is the alert state store. The zero value is not usable; call New.
type Store struct {
	shards []*shard
}

// New creates an empty store.
func New() *Store {
	return NewWithShards(defaultShards)
}

// NewWithShards creates an empty store with n lock stripes.
func NewWithShards(n int) *Store {
	if n <= 0 {
		n = defaultShards
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{objects: make(map[string]*Object)}
	}
	return s
}

func (s *Store) shardFor(objectID string) *shard {
	return s.shards[xxhash.Sum64String(objectID)%uint64(len(s.shards))]
}

// Update runs fn with exclusive access to the state of objectID. fn receives
// a fresh, empty Object when none exists. Objects left with no entries are
// not retained; otherwise LastSeen is set to now.
func (s *Store) Update(objectID string, now time.Time, fn func(obj *Object)) {
	sh := s.shardFor(objectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	obj, ok := sh.objects[objectID]
	if !ok {
		obj = &Object{Criteria: make(map[string]Entry)}
	}

	fn(obj)

	if len(obj.Criteria) == 0 {
		delete(sh.objects, objectID)
		return
	}
	obj.LastSeen = now
	sh.objects[objectID] = obj
}

// Get returns a copy of the entry for (objectID, criterion).
func (s *Store) Get(objectID, criterion string) (Entry, bool) {
	sh := s.shardFor(objectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	obj, ok := sh.objects[objectID]
	if !ok {
		return Entry{}, false
	}
	e, ok := obj.Criteria[criterion]
	return e, ok
}

// Len returns the number of objects holding state.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.objects)
		sh.mu.Unlock()
	}
	return n
}

// EvictIdle removes every object whose LastSeen is before cutoff and returns
// how many were removed.
func (s *Store) EvictIdle(cutoff time.Time) int {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, obj := range sh.objects {
			if obj.LastSeen.Before(cutoff) {
				delete(sh.objects, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Reset discards all state.
func (s *Store) Reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.objects = make(map[string]*Object)
		sh.mu.Unlock()
	}
}
