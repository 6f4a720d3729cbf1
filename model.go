package main

import (
	"slices"
	"strings"
)

// Field is one column or document key together with the type tag reported by its store.
type Field struct {
	Name string
	Type string // lower-cased store type, e.g. "tinyint(1)", "longblob", "objectid"
}

// Entity describes a table or collection.
type Entity struct {
	Name       string
	Fields     []Field
	PrimaryKey []string // fields flagged as primary key while describing
}

// FieldNames returns the field names in store order.
func (e Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKey is a single foreign-key edge: Table.Column references RefTable.RefColumn.
type ForeignKey struct {
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

// ReferenceField is the document field name the edge's column is renamed to.
func (fk ForeignKey) ReferenceField() string {
	return fk.RefTable + "_id"
}

// PrimaryKey identifies one primary-key column of one entity.
type PrimaryKey struct {
	Table  string
	Column string
}

// PrimaryKeySet collects primary-key columns across entities.
type PrimaryKeySet map[PrimaryKey]struct{}

// Add records every primary-key field of the described entity.
func (s PrimaryKeySet) Add(e Entity) {
	for _, col := range e.PrimaryKey {
		s[PrimaryKey{Table: e.Name, Column: col}] = struct{}{}
	}
}

// Sorted returns the keys ordered by table, then column.
func (s PrimaryKeySet) Sorted() []PrimaryKey {
	keys := make([]PrimaryKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b PrimaryKey) int {
		if c := strings.Compare(a.Table, b.Table); c != 0 {
			return c
		}
		return strings.Compare(a.Column, b.Column)
	})
	return keys
}

// Record is one row or document. Field order is preserved so that layouts
// inferred from a record are deterministic.
type Record struct {
	keys   []string
	values map[string]any
}

func (r Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

func (r *Record) Set(field string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = v
}

func (r *Record) Delete(field string) {
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	r.keys = slices.DeleteFunc(r.keys, func(k string) bool { return k == field })
}

// Fields returns the field names in order.
func (r Record) Fields() []string {
	return slices.Clone(r.keys)
}

func (r Record) Len() int { return len(r.keys) }

// SchemaOutcome tells how a schema handle was obtained.
type SchemaOutcome int

const (
	SchemaSelected SchemaOutcome = iota
	SchemaCreated
	SchemaCollisionRenamed
)

func (o SchemaOutcome) String() string {
	switch o {
	case SchemaSelected:
		return "selected"
	case SchemaCreated:
		return "created"
	case SchemaCollisionRenamed:
		return "collision-renamed"
	default:
		return "unknown"
	}
}

// SchemaHandle names the schema, database or keyspace an adapter is bound to.
type SchemaHandle struct {
	Name      string // name actually bound, possibly suffixed
	Requested string
	Outcome   SchemaOutcome
}
