package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type attrMap = map[string]types.AttributeValue

// Memory is an in-process Store with the same conditional and transactional semantics as
// Dynamo. It backs local development and the service tests.
type Memory struct {
	mu    sync.RWMutex
	items map[Key]attrMap
}

func NewMemory() *Memory {
	return &Memory{items: make(map[Key]attrMap)}
}

// Len returns the number of stored items
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Get(ctx context.Context, key Key, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return attributevalue.UnmarshalMap(item, out)
}

func (m *Memory) Put(ctx context.Context, item any, conds ...Condition) error {
	return m.Transact(ctx, PutOp{Item: item, Conditions: conds})
}

func (m *Memory) Update(ctx context.Context, key Key, upd Update, out any, conds ...Condition) error {
	if err := m.Transact(ctx, UpdateOp{Key: key, Update: upd, Conditions: conds}); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return m.Get(ctx, key, out)
}

func (m *Memory) Delete(ctx context.Context, key Key, conds ...Condition) error {
	return m.Transact(ctx, DeleteOp{Key: key, Conditions: conds})
}

// Transact validates every op against the current state before applying any of them.
func (m *Memory) Transact(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	type write struct {
		key  Key
		item attrMap // nil deletes
		skip bool
	}
	writes := make([]write, 0, len(ops))
	seen := make(map[Key]bool, len(ops))

	for i, op := range ops {
		var (
			key   Key
			conds []Condition
			w     write
		)
		switch o := op.(type) {
		case PutOp:
			item, err := attributevalue.MarshalMap(o.Item)
			if err != nil {
				return fmt.Errorf("transaction op %d: marshal item: %w", i, err)
			}
			if key, err = keyOf(item); err != nil {
				return fmt.Errorf("transaction op %d: %w", i, err)
			}
			conds, w = o.Conditions, write{key: key, item: item}
		case UpdateOp:
			if o.Update.empty() {
				return fmt.Errorf("transaction op %d: empty update for %s", i, o.Key)
			}
			key, conds = o.Key, o.Conditions
			next, err := applyUpdate(m.items[key], key, o.Update)
			if err != nil {
				return fmt.Errorf("transaction op %d: %w", i, err)
			}
			w = write{key: key, item: next}
		case DeleteOp:
			key, conds = o.Key, o.Conditions
			w = write{key: key}
		case CheckOp:
			key, conds = o.Key, o.Conditions
			w = write{key: key, skip: true}
		default:
			return fmt.Errorf("store: unsupported op %T", op)
		}

		if seen[key] {
			return fmt.Errorf("store: transaction has multiple operations on %s", key)
		}
		seen[key] = true

		existing := m.items[key]
		ok, err := evaluate(existing, conds)
		if err != nil {
			return fmt.Errorf("transaction op %d: %w", i, err)
		}
		if !ok {
			return &ConditionFailedError{Index: i, Exists: existing != nil}
		}
		writes = append(writes, w)
	}

	for _, w := range writes {
		switch {
		case w.skip:
		case w.item == nil:
			delete(m.items, w.key)
		default:
			m.items[w.key] = w.item
		}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query, out any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start, err := DecodeCursor(q.Cursor, q.Index)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	var matches []attrMap
	for _, item := range m.items {
		pk, ok := stringAttr(item, q.Index.PartitionAttr)
		if !ok || pk != q.Partition {
			continue
		}
		sk, ok := stringAttr(item, q.Index.SortAttr)
		if !ok {
			continue
		}
		if q.SortEquals != "" && sk != q.SortEquals {
			continue
		}
		if q.SortPrefix != "" && !strings.HasPrefix(sk, q.SortPrefix) {
			continue
		}
		matches = append(matches, item)
	}
	m.mu.RUnlock()

	position := func(item attrMap) [3]string {
		sk, _ := stringAttr(item, q.Index.SortAttr)
		pk, _ := stringAttr(item, AttrPK)
		tableSK, _ := stringAttr(item, AttrSK)
		return [3]string{sk, pk, tableSK}
	}
	before := func(a, b [3]string) bool {
		for i := range a {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
		}
		return false
	}

	sort.Slice(matches, func(i, j int) bool {
		if q.Descending {
			return before(position(matches[j]), position(matches[i]))
		}
		return before(position(matches[i]), position(matches[j]))
	})

	if start != nil {
		from := position(start)
		i := 0
		for ; i < len(matches); i++ {
			p := position(matches[i])
			if q.Descending && before(p, from) || !q.Descending && before(from, p) {
				break
			}
		}
		matches = matches[i:]
	}

	// a page that fills the limit carries a cursor even when nothing follows, as DynamoDB does
	var next string
	if q.Limit > 0 && len(matches) >= int(q.Limit) {
		matches = matches[:q.Limit]
		if next, err = EncodeCursor(cursorKey(matches[len(matches)-1], q.Index)); err != nil {
			return "", err
		}
	}

	if q.KeysOnly {
		projected := make([]attrMap, 0, len(matches))
		for _, item := range matches {
			projected = append(projected, attrMap{AttrPK: item[AttrPK], AttrSK: item[AttrSK]})
		}
		matches = projected
	}
	if matches == nil {
		matches = []attrMap{}
	}
	if err := attributevalue.UnmarshalListOfMaps(matches, out); err != nil {
		return "", err
	}
	return next, nil
}

func (m *Memory) BatchDelete(ctx context.Context, keys []Key) error {
	for _, chunk := range chunkKeys(keys, MaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		for _, k := range chunk {
			delete(m.items, k)
		}
		m.mu.Unlock()
	}
	return nil
}

func cursorKey(item attrMap, idx Index) attrMap {
	key := attrMap{AttrPK: item[AttrPK], AttrSK: item[AttrSK]}
	key[idx.PartitionAttr] = item[idx.PartitionAttr]
	key[idx.SortAttr] = item[idx.SortAttr]
	return key
}

func keyOf(item attrMap) (Key, error) {
	pk, ok := stringAttr(item, AttrPK)
	if !ok || pk == "" {
		return Key{}, fmt.Errorf("store: item has no %s", AttrPK)
	}
	sk, ok := stringAttr(item, AttrSK)
	if !ok || sk == "" {
		return Key{}, fmt.Errorf("store: item has no %s", AttrSK)
	}
	return Key{PK: pk, SK: sk}, nil
}

func stringAttr(item attrMap, name string) (string, bool) {
	s, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func evaluate(existing attrMap, conds []Condition) (bool, error) {
	for _, c := range conds {
		switch c.op {
		case condExists:
			if existing == nil {
				return false, nil
			}
		case condNotExists:
			if existing != nil {
				return false, nil
			}
		case condEquals:
			if existing == nil {
				return false, nil
			}
			want, err := attributevalue.Marshal(c.value)
			if err != nil {
				return false, fmt.Errorf("marshal condition value: %w", err)
			}
			got, ok := existing[c.attr]
			if !ok || !attributeEqual(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

func attributeEqual(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		xf, errX := strconv.ParseFloat(x.Value, 64)
		yf, errY := strconv.ParseFloat(y.Value, 64)
		return errX == nil && errY == nil && xf == yf
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return reflect.DeepEqual(a, b)
}

// applyUpdate returns a new item; the stored one is never mutated in place
func applyUpdate(current attrMap, key Key, upd Update) (attrMap, error) {
	next := make(attrMap, len(current)+len(upd.Set)+2)
	for k, v := range current {
		next[k] = v
	}
	next[AttrPK] = &types.AttributeValueMemberS{Value: key.PK}
	next[AttrSK] = &types.AttributeValueMemberS{Value: key.SK}

	for name, v := range upd.Set {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		next[name] = av
	}
	for _, name := range upd.Remove {
		delete(next, name)
	}
	for name, delta := range upd.Add {
		var cur int64
		if existing, ok := next[name]; ok {
			n, ok := existing.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("store: ADD on non-numeric attribute %s", name)
			}
			var err error
			if cur, err = strconv.ParseInt(n.Value, 10, 64); err != nil {
				return nil, fmt.Errorf("store: attribute %s: %w", name, err)
			}
		}
		next[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+delta, 10)}
	}
	return next, nil
}
