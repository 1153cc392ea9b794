package stmtcache

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheSize selects a Strategy. The zero value is CacheSizeUnbounded; a
// positive value bounds the cache to that many statements; any negative
// value disables caching.
type CacheSize int

const (
	CacheSizeUnbounded CacheSize = 0
	CacheSizeDisabled  CacheSize = -1
)

// ParseCacheSize accepts "unbounded", "disabled" or a positive integer.
func ParseCacheSize(s string) (CacheSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unbounded":
		return CacheSizeUnbounded, nil
	case "disabled", "off", "none":
		return CacheSizeDisabled, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid statement cache size %q: want unbounded, disabled or a positive integer", s)
	}
	return CacheSize(n), nil
}

// Normalize maps every negative size to CacheSizeDisabled.
func (s CacheSize) Normalize() CacheSize {
	if s < 0 {
		return CacheSizeDisabled
	}
	return s
}

func (s CacheSize) String() string {
	switch {
	case s == CacheSizeUnbounded:
		return "unbounded"
	case s < 0:
		return "disabled"
	default:
		return strconv.Itoa(int(s))
	}
}

// Strategy owns the map from CacheKey to prepared handle.
type Strategy[S any] interface {
	CacheSize() CacheSize
	Lookup(key CacheKey) Lookup[S]
	Len() int
	// Release drops every entry, closing handles that implement io.Closer.
	Release() error
}

// Slot inserts a freshly prepared handle for the key it was looked up with.
type Slot[S any] interface {
	// Insert stores stmt and returns a reference to the stored handle. If the
	// key is already present the existing handle is returned and inserted is
	// false; stmt is left to the caller.
	Insert(stmt S) (ref *S, inserted bool)
}

// Lookup is the result of Strategy.Lookup: a hit, a miss with an insertion
// slot, or a miss without capacity.
type Lookup[S any] struct {
	hit  *S
	slot Slot[S]
}

func LookupHit[S any](ref *S) Lookup[S]        { return Lookup[S]{hit: ref} }
func LookupSlot[S any](slot Slot[S]) Lookup[S] { return Lookup[S]{slot: slot} }
func LookupNoCapacity[S any]() Lookup[S]       { return Lookup[S]{} }

func (l Lookup[S]) Hit() (*S, bool)       { return l.hit, l.hit != nil }
func (l Lookup[S]) Slot() (Slot[S], bool) { return l.slot, l.slot != nil }

// NewStrategy returns the built-in strategy for size.
func NewStrategy[S any](size CacheSize) Strategy[S] {
	switch {
	case size == CacheSizeUnbounded:
		return &unboundedStrategy[S]{entries: make(map[keyID]*S)}
	case size < 0:
		return disabledStrategy[S]{}
	default:
		return newLRUStrategy[S](int(size))
	}
}

func closeHandle[S any](stmt S) error {
	if c, ok := any(stmt).(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type unboundedStrategy[S any] struct {
	entries map[keyID]*S
}

func (u *unboundedStrategy[S]) CacheSize() CacheSize { return CacheSizeUnbounded }

func (u *unboundedStrategy[S]) Len() int { return len(u.entries) }

func (u *unboundedStrategy[S]) Lookup(key CacheKey) Lookup[S] {
	id := key.identity()
	if ref, ok := u.entries[id]; ok {
		return LookupHit(ref)
	}
	return LookupSlot[S](unboundedSlot[S]{owner: u, id: id})
}

func (u *unboundedStrategy[S]) Release() error {
	var errs []error
	for id, ref := range u.entries {
		if err := closeHandle(*ref); err != nil {
			errs = append(errs, err)
		}
		delete(u.entries, id)
	}
	return errors.Join(errs...)
}

type unboundedSlot[S any] struct {
	owner *unboundedStrategy[S]
	id    keyID
}

func (s unboundedSlot[S]) Insert(stmt S) (*S, bool) {
	if ref, ok := s.owner.entries[s.id]; ok {
		return ref, false
	}
	ref := new(S)
	*ref = stmt
	s.owner.entries[s.id] = ref
	return ref, true
}

type disabledStrategy[S any] struct{}

func (disabledStrategy[S]) CacheSize() CacheSize      { return CacheSizeDisabled }
func (disabledStrategy[S]) Len() int                  { return 0 }
func (disabledStrategy[S]) Lookup(CacheKey) Lookup[S] { return LookupNoCapacity[S]() }
func (disabledStrategy[S]) Release() error            { return nil }

// lruStrategy keeps at most capacity entries, evicting the least recently
// used one on insert. Evicted handles are closed by the eviction callback.
type lruStrategy[S any] struct {
	capacity int
	entries  *lru.Cache[keyID, *S]
	// errs collects close errors while Release purges the cache.
	errs      []error
	releasing bool
}

func newLRUStrategy[S any](capacity int) *lruStrategy[S] {
	l := &lruStrategy[S]{capacity: capacity}
	entries, err := lru.NewWithEvict[keyID, *S](capacity, l.onEvict)
	if err != nil {
		// lru only rejects non-positive sizes.
		panic(fmt.Sprintf("stmtcache: lru capacity %d: %v", capacity, err))
	}
	l.entries = entries
	return l
}

func (l *lruStrategy[S]) onEvict(_ keyID, ref *S) {
	if err := closeHandle(*ref); err != nil && l.releasing {
		l.errs = append(l.errs, err)
	}
}

func (l *lruStrategy[S]) CacheSize() CacheSize { return CacheSize(l.capacity) }

func (l *lruStrategy[S]) Len() int { return l.entries.Len() }

func (l *lruStrategy[S]) Lookup(key CacheKey) Lookup[S] {
	id := key.identity()
	if ref, ok := l.entries.Get(id); ok {
		return LookupHit(ref)
	}
	return LookupSlot[S](lruSlot[S]{owner: l, id: id})
}

func (l *lruStrategy[S]) Release() error {
	l.releasing = true
	l.entries.Purge()
	err := errors.Join(l.errs...)
	l.errs, l.releasing = nil, false
	return err
}

type lruSlot[S any] struct {
	owner *lruStrategy[S]
	id    keyID
}

// Insert adds stmt, evicting and closing the least recently used handle when
// the cache is full. Close errors on eviction are dropped; the handle is
// unreachable either way.
func (s lruSlot[S]) Insert(stmt S) (*S, bool) {
	if ref, ok := s.owner.entries.Get(s.id); ok {
		return ref, false
	}
	ref := new(S)
	*ref = stmt
	s.owner.entries.Add(s.id, ref)
	return ref, true
}
