// Package posindex records which block of the input each decoded group came
// from, ordered by entity identifier.
package posindex

import (
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

const degree = 32

// Entry locates a decoded group in the input file
type Entry struct {
	Kind   osmdata.Kind
	Offset uint64
	ID     int64
}

// item orders entries by id, then by insertion sequence so equal ids keep
// their arrival order
type item struct {
	Entry
	seq uint64
}

func (a item) Less(than btree.Item) bool {
	b := than.(item)
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.seq < b.seq
}

// Index is an ordered, insert-only collection of entries. It is safe for
// one writer and any number of concurrent readers.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTree
	seq  uint64
}

// New creates an empty index
func New() *Index {
	return &Index{tree: btree.New(degree)}
}

// Insert adds an entry in O(log n)
func (x *Index) Insert(e Entry) {
	x.mu.Lock()
	x.seq++
	x.tree.ReplaceOrInsert(item{Entry: e, seq: x.seq})
	x.mu.Unlock()
}

// Len returns the number of entries
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Ascend calls fn for each entry in id order until fn returns false
func (x *Index) Ascend(fn func(Entry) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	x.tree.Ascend(func(i btree.Item) bool {
		return fn(i.(item).Entry)
	})
}

// Entries returns a snapshot of all entries in id order
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Entry, 0, x.tree.Len())
	x.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(item).Entry)
		return true
	})
	return out
}

// Lookup returns the entry of the given kind with the greatest id not above
// id, which is the group that would contain id if it exists. With several
// entries for that id the latest inserted wins.
func (x *Index) Lookup(kind osmdata.Kind, id int64) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var (
		found Entry
		ok    bool
	)
	pivot := item{Entry: Entry{ID: id}, seq: math.MaxUint64}
	x.tree.DescendLessOrEqual(pivot, func(i btree.Item) bool {
		e := i.(item).Entry
		if e.Kind != kind {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}
