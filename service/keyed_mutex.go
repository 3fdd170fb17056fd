package service

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// DocumentLocks serializes status changes per document. The document and
// review services must share one instance.
type DocumentLocks struct {
	keys *keyedMutex
}

// NewDocumentLocks creates an empty lock set
func NewDocumentLocks() *DocumentLocks {
	return &DocumentLocks{keys: newKeyedMutex()}
}

func (l *DocumentLocks) lock(id uuid.UUID) func() {
	return l.keys.Lock(id.String())
}
