// Package store is the single-table access layer. Every call returns one of a closed set of
// outcomes: success, ErrNotFound, or a *ConditionFailedError describing which precondition failed.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the item does not exist
	ErrNotFound = errors.New("store: item not found")

	// ErrConditionFailed matches every *ConditionFailedError via errors.Is
	ErrConditionFailed = errors.New("store: condition failed")

	// ErrInvalidCursor is returned by Query for a cursor it did not issue
	ErrInvalidCursor = errors.New("store: invalid cursor")

	// ErrTransactionConflict is returned when a transaction lost a race with another one
	ErrTransactionConflict = errors.New("store: transaction conflict")
)

// ConditionFailedError reports a rejected conditional write.
// Index is the position of the failing operation inside a transaction (0 for single writes).
// Exists reports whether the item the condition was evaluated against was present.
type ConditionFailedError struct {
	Index  int
	Exists bool
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("store: condition failed (op %d, item exists: %t)", e.Index, e.Exists)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// AsConditionFailed extracts the failure detail from err
func AsConditionFailed(err error) (*ConditionFailedError, bool) {
	var cf *ConditionFailedError
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}

type conditionOp int

const (
	condExists conditionOp = iota
	condNotExists
	condEquals
)

// Condition is a precondition on the item addressed by a write
type Condition struct {
	op    conditionOp
	attr  string
	value any
}

// Exists requires the item to be present
func Exists() Condition { return Condition{op: condExists, attr: AttrPK} }

// NotExists requires the item to be absent
func NotExists() Condition { return Condition{op: condNotExists, attr: AttrPK} }

// Equals requires the item to be present with attr equal to value
func Equals(attr string, value any) Condition {
	return Condition{op: condEquals, attr: attr, value: value}
}

// Update describes a partial item mutation. Add applies numeric deltas atomically.
type Update struct {
	Set    map[string]any
	Remove []string
	Add    map[string]int64
}

func (u Update) empty() bool {
	return len(u.Set) == 0 && len(u.Remove) == 0 && len(u.Add) == 0
}

// Query reads one partition of the table or of an index.
// Exactly one of SortEquals and SortPrefix may be set.
type Query struct {
	Index      Index
	Partition  string
	SortEquals string
	SortPrefix string
	Descending bool
	Limit      int32
	Cursor     string
	KeysOnly   bool
}

// Op is one write inside a transaction
type Op interface {
	isOp()
}

type PutOp struct {
	Item       any
	Conditions []Condition
}

type UpdateOp struct {
	Key        Key
	Update     Update
	Conditions []Condition
}

type DeleteOp struct {
	Key        Key
	Conditions []Condition
}

// CheckOp asserts conditions on an item without writing it
type CheckOp struct {
	Key        Key
	Conditions []Condition
}

func (PutOp) isOp()    {}
func (UpdateOp) isOp() {}
func (DeleteOp) isOp() {}
func (CheckOp) isOp()  {}

// Store is the transactional key-value interface the services are written against.
type Store interface {
	// Get loads one item into out. Returns ErrNotFound when absent.
	Get(ctx context.Context, key Key, out any) error
	// Put writes a whole item. The item must carry PK and SK attributes.
	Put(ctx context.Context, item any, conds ...Condition) error
	// Update applies upd and, when out is non-nil, decodes the updated item into it.
	// Without conditions a missing item is created.
	Update(ctx context.Context, key Key, upd Update, out any, conds ...Condition) error
	Delete(ctx context.Context, key Key, conds ...Condition) error
	// Query decodes a page into out (a pointer to a slice) and returns the cursor of the
	// next page, or "" when the partition is exhausted.
	Query(ctx context.Context, q Query, out any) (string, error)
	// Transact commits all ops or none of them.
	Transact(ctx context.Context, ops ...Op) error
	// BatchDelete removes keys unconditionally in chunks of MaxBatchSize.
	BatchDelete(ctx context.Context, keys []Key) error
}

// MaxBatchSize is the largest number of writes accepted by a single batch call
const MaxBatchSize = 25

func chunkKeys(keys []Key, size int) [][]Key {
	var chunks [][]Key
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}
