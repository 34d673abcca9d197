package lock

import (
	"context"
	"sync"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// Keyed is an in-process per-key mutex. Entries are dropped once no caller holds or waits on them.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	slot chan struct{}
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done. The returned unlock is safe to call more than once.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{slot: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		k.release(key, entry)
		return nil, domain.WrapError(domain.ErrTemporary, "acquire shipment lock", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			k.release(key, entry)
		})
	}, nil
}

func (k *Keyed) release(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
