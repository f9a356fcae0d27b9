// Package guardian models versioned, epoch-expiring guardian sets and the
// registry that resolves them.
package guardian

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Set is an ordered, versioned list of guardian addresses. A guardian's
// index within Keys is its identity on the wire.
type Set struct {
	// Index is the version of this set.
	Index uint32 `json:"index"`

	// Keys are the guardian addresses, unique, in signing order.
	Keys []common.Address `json:"keys"`

	// ExpirationTime is the unix time after which this set is no longer
	// valid. Zero means the set never expires.
	ExpirationTime uint64 `json:"expirationTime"`
}

// Expired reports whether the set has passed its expiration time.
// A zero expiration time never expires.
func (s *Set) Expired(now uint64) bool {
	return s.ExpirationTime != 0 && s.ExpirationTime < now
}

// KeyIndex returns the index of addr within the set, or false if absent.
func (s *Set) KeyIndex(addr common.Address) (int, bool) {
	for i, k := range s.Keys {
		if k == addr {
			return i, true
		}
	}
	return -1, false
}

// Quorum returns the minimum number of guardians that must sign for a set
// of numGuardians to accept an attestation. For an empty set this is 1,
// which can never be met: an unresolvable set always fails closed.
func Quorum(numGuardians int) int {
	return numGuardians*2/3 + 1
}

// Registry resolves guardian sets by index. Implementations are expected
// to be cheap to query repeatedly; the verifier reads a set at most once
// per verification attempt and never caches across calls.
type Registry interface {
	// GetGuardianSet returns the set with the given index, or an error if
	// no such set is known.
	GetGuardianSet(index uint32) (*Set, error)

	// GetCurrentGuardianSetIndex returns the index of the active set.
	GetCurrentGuardianSetIndex() (uint32, error)
}

// StaticRegistry is an in-memory Registry backed by a fixed map of sets.
// The current index is the highest registered index. Safe for concurrent
// use.
type StaticRegistry struct {
	mu   sync.RWMutex
	sets map[uint32]*Set
}

// NewStaticRegistry creates a registry from the given sets.
func NewStaticRegistry(sets ...*Set) *StaticRegistry {
	r := &StaticRegistry{
		sets: make(map[uint32]*Set, len(sets)),
	}
	for _, s := range sets {
		r.sets[s.Index] = s
	}
	return r
}

// Register adds or replaces a set.
func (r *StaticRegistry) Register(s *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[s.Index] = s
}

// GetGuardianSet returns the set with the given index.
func (r *StaticRegistry) GetGuardianSet(index uint32) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sets[index]
	if !ok {
		return nil, fmt.Errorf("guardian set %d not found", index)
	}
	return s, nil
}

// GetCurrentGuardianSetIndex returns the highest registered set index.
func (r *StaticRegistry) GetCurrentGuardianSetIndex() (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sets) == 0 {
		return 0, fmt.Errorf("no guardian sets registered")
	}

	indexes := make([]uint32, 0, len(r.sets))
	for idx := range r.sets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	return indexes[len(indexes)-1], nil
}
