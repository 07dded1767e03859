package db

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a Store operation in errors and MemoryStore hooks
type Op string

const (
	OpFetchOne   Op = "fetch_one"
	OpFetchMany  Op = "fetch_many"
	OpInsert     Op = "insert"
	OpInsertMany Op = "insert_many"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
)

// Hook runs before every MemoryStore operation without holding the store lock.
// Returning an error fails the operation with a *Error wrapping it.
type Hook func(ctx context.Context, op Op, collection string) error

// createdAtLayout is fixed width so stored timestamps sort lexically
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// uniqueKeys mirrors the unique constraints of the postgres schema. Every
// collection is also unique on id.
var uniqueKeys = map[string][][]string{
	VolunteerProfiles:    {{"user_id"}},
	OrganizationProfiles: {{"user_id"}},
	CorporateProfiles:    {{"user_id"}},
	Skills:               {{"name"}},
	Badges:               {{"name"}},
	VolunteerSkills:      {{"volunteer_id", "skill_id"}},
}

// MemoryStore is an in-process Store used by the memory backend and by tests.
// Missing ids are filled with UUIDs and every row gets a created_at timestamp.
// Writes that would break a unique key fail with CodeUniqueViolation.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]Record
	hook   Hook
	now    func() time.Time
	last   time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Record),
		now:    time.Now,
	}
}

// SetHook installs a hook called before every operation (nil removes it)
func (m *MemoryStore) SetHook(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Seed appends rows to a collection without invoking the hook
func (m *MemoryStore) Seed(collection string, rows any) error {
	recs, err := ToRecords(rows)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.prepare(rec)
		m.tables[collection] = append(m.tables[collection], rec)
	}
	return nil
}

// Count returns the number of rows matching filter, without invoking the hook
func (m *MemoryStore) Count(collection string, filter Filter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(collection, filter))
}

func (m *MemoryStore) FetchOne(ctx context.Context, collection string, filter Filter, dest any) error {
	if err := m.before(ctx, OpFetchOne, collection); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.match(collection, filter)
	switch len(matched) {
	case 0:
		return NotFound(string(OpFetchOne), collection)
	case 1:
		return Decode(m.tables[collection][matched[0]], dest)
	default:
		return MultipleRows(string(OpFetchOne), collection)
	}
}

func (m *MemoryStore) FetchMany(ctx context.Context, collection string, filter Filter, order []Order, dest any) error {
	if err := m.before(ctx, OpFetchMany, collection); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]Record, 0)
	for _, i := range m.match(collection, filter) {
		rows = append(rows, m.tables[collection][i])
	}
	sortRecords(rows, order)
	return Decode(rows, dest)
}

func (m *MemoryStore) Insert(ctx context.Context, collection string, row any, dest any) error {
	if err := m.before(ctx, OpInsert, collection); err != nil {
		return err
	}

	rec, err := ToRecord(row)
	if err != nil {
		return &Error{Op: string(OpInsert), Collection: collection, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prepare(rec)
	if key := m.violated(collection, rec, -1); key != nil {
		return conflict(OpInsert, collection, key)
	}
	m.tables[collection] = append(m.tables[collection], rec)
	return Decode(rec, dest)
}

func (m *MemoryStore) InsertMany(ctx context.Context, collection string, rows any, dest any) error {
	if err := m.before(ctx, OpInsertMany, collection); err != nil {
		return err
	}

	recs, err := ToRecords(rows)
	if err != nil {
		return &Error{Op: string(OpInsertMany), Collection: collection, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range recs {
		m.prepare(rec)
		if key := m.violated(collection, rec, -1); key != nil {
			return conflict(OpInsertMany, collection, key)
		}
		for _, earlier := range recs[:i] {
			if key := sharedKey(collection, rec, earlier); key != nil {
				return conflict(OpInsertMany, collection, key)
			}
		}
	}
	m.tables[collection] = append(m.tables[collection], recs...)
	if recs == nil {
		recs = []Record{}
	}
	return Decode(recs, dest)
}

func (m *MemoryStore) Update(ctx context.Context, collection string, filter Filter, patch any, dest any) error {
	if len(filter) == 0 {
		return &Error{Op: string(OpUpdate), Collection: collection, Err: ErrUnfiltered}
	}
	if err := m.before(ctx, OpUpdate, collection); err != nil {
		return err
	}

	changes, err := ToRecord(patch)
	if err != nil {
		return &Error{Op: string(OpUpdate), Collection: collection, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.match(collection, filter)
	switch len(matched) {
	case 0:
		return NotFound(string(OpUpdate), collection)
	case 1:
	default:
		return MultipleRows(string(OpUpdate), collection)
	}

	row := make(Record, len(m.tables[collection][matched[0]]))
	for key, value := range m.tables[collection][matched[0]] {
		row[key] = value
	}
	for key, value := range changes {
		if key == "id" {
			continue
		}
		row[key] = value
	}
	if key := m.violated(collection, row, matched[0]); key != nil {
		return conflict(OpUpdate, collection, key)
	}
	m.tables[collection][matched[0]] = row
	return Decode(row, dest)
}

func (m *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, &Error{Op: string(OpDelete), Collection: collection, Err: ErrUnfiltered}
	}
	if err := m.before(ctx, OpDelete, collection); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make(map[int]bool)
	for _, i := range m.match(collection, filter) {
		matched[i] = true
	}
	if len(matched) == 0 {
		return 0, nil
	}

	kept := make([]Record, 0, len(m.tables[collection])-len(matched))
	for i, rec := range m.tables[collection] {
		if !matched[i] {
			kept = append(kept, rec)
		}
	}
	m.tables[collection] = kept
	return len(matched), nil
}

func (m *MemoryStore) before(ctx context.Context, op Op, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, collection); err != nil {
			return &Error{Op: string(op), Collection: collection, Err: err}
		}
	}
	return ctx.Err()
}

// prepare fills server-side defaults. Callers hold m.mu.
func (m *MemoryStore) prepare(rec Record) {
	if id, ok := rec["id"].(string); !ok || id == "" {
		rec["id"] = uuid.NewString()
	}
	if _, ok := rec["created_at"]; !ok {
		now := m.now().UTC()
		if !now.After(m.last) {
			now = m.last.Add(time.Nanosecond)
		}
		m.last = now
		rec["created_at"] = now.Format(createdAtLayout)
	}
}

// violated returns the unique key rec shares with a stored row other than the one
// at index skip, or nil. Callers hold m.mu.
func (m *MemoryStore) violated(collection string, rec Record, skip int) []string {
	for i, existing := range m.tables[collection] {
		if i == skip {
			continue
		}
		if key := sharedKey(collection, rec, existing); key != nil {
			return key
		}
	}
	return nil
}

// sharedKey returns the first unique key on which a and b collide. As in SQL, a key
// with a null column never collides.
func sharedKey(collection string, a, b Record) []string {
	keys := append([][]string{{"id"}}, uniqueKeys[collection]...)
	for _, key := range keys {
		collides := true
		for _, column := range key {
			if a[column] == nil || b[column] == nil || !valuesEqual(a[column], b[column]) {
				collides = false
				break
			}
		}
		if collides {
			return key
		}
	}
	return nil
}

func conflict(op Op, collection string, key []string) error {
	return &Error{
		Op:         string(op),
		Collection: collection,
		Code:       CodeUniqueViolation,
		Message:    fmt.Sprintf("duplicate key value violates unique constraint (%s)", strings.Join(key, ", ")),
	}
}

// match returns the indexes of rows matching filter. Callers hold m.mu.
func (m *MemoryStore) match(collection string, filter Filter) []int {
	var out []int
	for i, rec := range m.tables[collection] {
		if matches(rec, filter) {
			out = append(out, i)
		}
	}
	return out
}

func matches(rec Record, filter Filter) bool {
	for _, cond := range filter {
		if !valuesEqual(rec[cond.Column], normalize(cond.Value)) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	an, aok := a.(json.Number)
	bn, bok := b.(json.Number)
	if aok && bok {
		if an == bn {
			return true
		}
		af, aerr := an.Float64()
		bf, berr := bn.Float64()
		return aerr == nil && berr == nil && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func sortRecords(rows []Record, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := compareValues(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders nulls first, numbers numerically and everything else lexically
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	an, aok := a.(json.Number)
	bn, bok := b.(json.Number)
	if aok && bok {
		af, _ := an.Float64()
		bf, _ := bn.Float64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for key := range rec {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
