package main

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// recordOf builds a record from alternating field names and values.
func recordOf(kv ...any) Record {
	var r Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// memDocumentStore is an in-memory DocumentStore with MongoDB semantics:
// inserts add a leading "_id", $rename moves a field to the end, updates on
// missing collections are no-ops. It survives Close so that both passes can
// open it.
type memDocumentStore struct {
	mu     sync.Mutex
	dbs    map[string]map[string][]Record
	db     string
	closes int
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{dbs: make(map[string]map[string][]Record)}
}

func (m *memDocumentStore) Name() string { return "memdoc" }

func (m *memDocumentStore) exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dbs[name]
	return ok, nil
}

func (m *memDocumentStore) SelectSchema(ctx context.Context, name string) (SchemaHandle, error) {
	ok, _ := m.exists(ctx, name)
	if !ok {
		return SchemaHandle{}, fmt.Errorf("memdoc %q: %w", name, ErrSchemaNotFound)
	}
	m.mu.Lock()
	m.db = name
	m.mu.Unlock()
	return SchemaHandle{Name: name, Requested: name, Outcome: SchemaSelected}, nil
}

func (m *memDocumentStore) CreateSchema(ctx context.Context, name string) (SchemaHandle, error) {
	actual, outcome, err := pickSchemaName(ctx, name, m.exists)
	if err != nil {
		return SchemaHandle{}, err
	}
	m.mu.Lock()
	m.dbs[actual] = make(map[string][]Record)
	m.db = actual
	m.mu.Unlock()
	return SchemaHandle{Name: actual, Requested: name, Outcome: outcome}, nil
}

func (m *memDocumentStore) collections() map[string][]Record {
	if m.db == "" {
		panic("memdoc: no database selected")
	}
	return m.dbs[m.db]
}

func (m *memDocumentStore) ListEntities(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.collections())), nil
}

func (m *memDocumentStore) DescribeEntity(_ context.Context, name string) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.collections()[name]
	if !ok {
		return Entity{}, fmt.Errorf("memdoc %s: %w", name, ErrEntityNotFound)
	}
	if len(recs) == 0 {
		return Entity{Name: name}, nil
	}
	return describeDocument(name, documentFromRecord(recs[0])), nil
}

func (m *memDocumentStore) FetchRecords(_ context.Context, collection string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.collections()[collection]
	if !ok {
		return nil, fmt.Errorf("memdoc %s: %w", collection, ErrEntityNotFound)
	}
	docs := make([]bson.D, len(recs))
	for i, r := range recs {
		docs[i] = documentFromRecord(r)
	}
	return recordsFromDocuments(docs), nil
}

func (m *memDocumentStore) InsertRecords(_ context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("insert %s: %w", collection, ErrEmptyCollection)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	colls := m.collections()
	for _, rec := range records {
		var doc Record
		if _, ok := rec.Get("_id"); !ok {
			doc.Set("_id", bson.NewObjectID())
		}
		for _, f := range rec.Fields() {
			v, _ := rec.Get(f)
			doc.Set(f, v)
		}
		colls[collection] = append(colls[collection], doc)
	}
	return nil
}

func (m *memDocumentStore) FindIdentifier(_ context.Context, collection, field string, value any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.collections()[collection] {
		if v, ok := rec.Get(field); ok && reflect.DeepEqual(v, value) {
			id, _ := rec.Get("_id")
			return id, nil
		}
	}
	return nil, fmt.Errorf("%s.%s = %v: %w", collection, field, value, ErrReferenceNotFound)
}

func (m *memDocumentStore) SetField(_ context.Context, collection string, id any, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.collections()[collection]
	for i := range recs {
		if v, _ := recs[i].Get("_id"); reflect.DeepEqual(v, id) {
			recs[i].Set(field, value)
			return nil
		}
	}
	return nil
}

func (m *memDocumentStore) RenameField(_ context.Context, collection, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.collections()[collection]
	for i := range recs {
		v, ok := recs[i].Get(from)
		if !ok {
			continue
		}
		recs[i].Delete(from)
		recs[i].Delete(to)
		recs[i].Set(to, v)
	}
	return nil
}

func (m *memDocumentStore) UnsetField(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.collections()[collection]
	for i := range recs {
		recs[i].Delete(field)
	}
	return nil
}

func (m *memDocumentStore) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// seed creates a database holding the given collections.
func (m *memDocumentStore) seed(db string, collections map[string][]Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dbs[db] == nil {
		m.dbs[db] = make(map[string][]Record)
	}
	for name, recs := range collections {
		m.dbs[db][name] = append(m.dbs[db][name], recs...)
	}
}

func (m *memDocumentStore) records(db, collection string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dbs[db][collection]
}

// memWideColumnStore is an in-memory wide-column store. Tables are inferred
// from the first inserted record exactly like the Cassandra adapter.
type memWideColumnStore struct {
	mu        sync.Mutex
	keyspaces map[string]map[string]*memTable
	keyspace  string
	closes    int
}

type memTable struct {
	layout wideColumnTable
	rows   [][]any
}

func newMemWideColumnStore() *memWideColumnStore {
	return &memWideColumnStore{keyspaces: make(map[string]map[string]*memTable)}
}

func (w *memWideColumnStore) Name() string { return "memwide" }

func (w *memWideColumnStore) exists(_ context.Context, name string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keyspaces[name]
	return ok, nil
}

func (w *memWideColumnStore) SelectSchema(ctx context.Context, name string) (SchemaHandle, error) {
	ks := cqlName(name)
	if ok, _ := w.exists(ctx, ks); !ok {
		return SchemaHandle{}, fmt.Errorf("memwide %q: %w", ks, ErrSchemaNotFound)
	}
	w.mu.Lock()
	w.keyspace = ks
	w.mu.Unlock()
	return SchemaHandle{Name: ks, Requested: name, Outcome: SchemaSelected}, nil
}

func (w *memWideColumnStore) CreateSchema(ctx context.Context, name string) (SchemaHandle, error) {
	actual, outcome, err := pickSchemaName(ctx, cqlName(name), w.exists)
	if err != nil {
		return SchemaHandle{}, err
	}
	w.mu.Lock()
	w.keyspaces[actual] = make(map[string]*memTable)
	w.keyspace = actual
	w.mu.Unlock()
	return SchemaHandle{Name: actual, Requested: name, Outcome: outcome}, nil
}

func (w *memWideColumnStore) ListEntities(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.keyspaces[w.keyspace])), nil
}

func (w *memWideColumnStore) table(name string) (*memTable, error) {
	t, ok := w.keyspaces[w.keyspace][cqlName(name)]
	if !ok {
		return nil, fmt.Errorf("memwide %s: %w", name, ErrEntityNotFound)
	}
	return t, nil
}

// DescribeEntity orders the key column first and the rest by name, as Cassandra does.
func (w *memWideColumnStore) DescribeEntity(_ context.Context, name string) (Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.table(name)
	if err != nil {
		return Entity{}, err
	}
	cols := slices.Clone(t.layout.Columns)
	slices.SortStableFunc(cols, func(a, b wideColumn) int {
		if a.PrimaryKey != b.PrimaryKey {
			if a.PrimaryKey {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	e := Entity{Name: t.layout.Name}
	for _, c := range cols {
		e.Fields = append(e.Fields, Field{Name: c.Name, Type: c.Type})
		if c.PrimaryKey {
			e.PrimaryKey = append(e.PrimaryKey, c.Name)
		}
	}
	return e, nil
}

func (w *memWideColumnStore) FetchRecords(_ context.Context, entity string) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, err := w.table(entity)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(t.rows))
	for i, row := range t.rows {
		for j, col := range t.layout.Columns {
			records[i].Set(col.Name, row[j])
		}
	}
	return records, nil
}

func (w *memWideColumnStore) InsertRecords(_ context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("insert %s: %w", collection, ErrEmptyCollection)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keyspace == "" {
		return fmt.Errorf("memwide: no keyspace selected")
	}
	t, ok := w.keyspaces[w.keyspace][cqlName(collection)]
	if !ok {
		layout, err := inferWideColumnTable(collection, records[0])
		if err != nil {
			return err
		}
		t = &memTable{layout: layout}
		w.keyspaces[w.keyspace][layout.Name] = t
	}
	for i, rec := range records {
		row, err := wideColumnRow(t.layout, rec)
		if err != nil {
			return fmt.Errorf("insert %s record %d: %w", t.layout.Name, i+1, err)
		}
		t.rows = append(t.rows, row)
	}
	return nil
}

func (w *memWideColumnStore) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

// failingStore wraps a store and fails inserts into the named entities.
type failingStore struct {
	Store
	fail map[string]error
}

func (f *failingStore) InsertRecords(ctx context.Context, entity string, records []Record) error {
	if err, ok := f.fail[entity]; ok {
		return err
	}
	return f.Store.InsertRecords(ctx, entity, records)
}

// recordValues flattens records for comparisons.
func recordValues(records []Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = make(map[string]any, r.Len())
		for _, f := range r.Fields() {
			out[i][f], _ = r.Get(f)
		}
	}
	return out
}
