package core

import (
	"fmt"
	"sync"
)

// Identifiers hands out small integer ids, reusing released slots first.
type Identifiers struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifiers(capacity int) *Identifiers {
	return &Identifiers{
		owners: make([]interface{}, 0, capacity),
	}
}

func (ids *Identifiers) Acquire(owner interface{}) uint32 {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	length := uint32(len(ids.owners))
	for i := uint32(0); i < length; i++ {
		// Existing free spot. Take it.
		if ids.owners[i] == nil {
			ids.owners[i] = owner
			return i
		}
	}

	// No free slot, push a new one.
	ids.owners = append(ids.owners, owner)
	return length
}

func (ids *Identifiers) Release(id uint32) error {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	length := uint32(len(ids.owners))
	if id >= length || ids.owners[id] == nil {
		err := fmt.Errorf("identifier release: id '%d' not acquired (max=%d): %w", id, length, ErrInvalidHandle)
		return err
	}

	ids.owners[id] = nil
	return nil
}

func (ids *Identifiers) Owner(id uint32) (interface{}, bool) {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	if id >= uint32(len(ids.owners)) || ids.owners[id] == nil {
		return nil, false
	}
	return ids.owners[id], true
}

// Live counts acquired ids.
func (ids *Identifiers) Live() int {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	n := 0
	for _, o := range ids.owners {
		if o != nil {
			n++
		}
	}
	return n
}
