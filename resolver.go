package main

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ResolveStats summarizes one reference-resolution run.
type ResolveStats struct {
	Rewritten int // foreign-key values replaced by the referenced record's identifier
	Dangling  int // foreign-key values with no matching referenced record
	Renamed   int // fields renamed to "<table>_id"
	Stripped  int // primary-key fields removed
}

// resolveReferences turns relational foreign keys into document references.
// Every foreign-key value is replaced by the "_id" of the record it points
// at, the field is renamed to "<referenced table>_id", and finally every
// primary-key field is removed. All owning collections must be fully
// populated before it runs.
func resolveReferences(ctx context.Context, store referenceStore, fks []ForeignKey, pks PrimaryKeySet) (ResolveStats, error) {
	var stats ResolveStats

	for _, fk := range fks {
		rewritten, dangling, err := rewriteEdge(ctx, store, fk)
		stats.Rewritten += rewritten
		stats.Dangling += dangling
		if err != nil {
			return stats, err
		}
		if rewritten+dangling > 0 {
			log.Printf("    %s.%s → %s: %d rewritten, %d dangling", fk.Table, fk.Column, fk.RefTable, rewritten, dangling)
		}
	}

	targets := make(map[string]map[string]string) // table → new field → source column
	for _, fk := range fks {
		to := fk.ReferenceField()
		if fk.Column == to {
			continue
		}
		if targets[fk.Table] == nil {
			targets[fk.Table] = make(map[string]string)
		}
		if prev, ok := targets[fk.Table][to]; ok && prev != fk.Column {
			log.Printf("    WARN: %s.%s and %s.%s both become %s; the later one wins", fk.Table, prev, fk.Table, fk.Column, to)
		}
		targets[fk.Table][to] = fk.Column
		if err := store.RenameField(ctx, fk.Table, fk.Column, to); err != nil {
			return stats, err
		}
		stats.Renamed++
	}

	for _, pk := range pks.Sorted() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := store.UnsetField(ctx, pk.Table, pk.Column); err != nil {
			return stats, err
		}
		stats.Stripped++
	}
	return stats, nil
}

// rewriteEdge replaces fk.Column in every record of fk.Table with the
// identifier of the matching fk.RefTable record. Absent and null values are
// left alone, as are values with no match.
func rewriteEdge(ctx context.Context, store referenceStore, fk ForeignKey) (rewritten, dangling int, err error) {
	records, err := store.FetchRecords(ctx, fk.Table)
	if errors.Is(err, ErrEntityNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot %s: %w", fk.Table, err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return rewritten, dangling, err
		}
		val, ok := rec.Get(fk.Column)
		if !ok || val == nil {
			continue
		}
		id, ok := rec.Get("_id")
		if !ok {
			return rewritten, dangling, fmt.Errorf("%s: record without _id", fk.Table)
		}

		refID, err := store.FindIdentifier(ctx, fk.RefTable, fk.RefColumn, val)
		if errors.Is(err, ErrReferenceNotFound) {
			dangling++
			continue
		}
		if err != nil {
			return rewritten, dangling, fmt.Errorf("resolve %s.%s: %w", fk.Table, fk.Column, err)
		}
		if err := store.SetField(ctx, fk.Table, id, fk.Column, refID); err != nil {
			return rewritten, dangling, err
		}
		rewritten++
	}
	return rewritten, dangling, nil
}
