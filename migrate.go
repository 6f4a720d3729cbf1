package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Migrator runs the two migration passes. Each pass is its own failure
// domain: a failed pass is reported and the other pass still runs.
type Migrator struct {
	cfg    *MigrationConfig
	report *Reporter

	openRelational func(context.Context) (RelationalStore, error)
	openDocument   func(context.Context) (DocumentStore, error)
	openWideColumn func(context.Context) (Store, error)

	// documentSchema is the database the relational pass created, so the
	// wide-column pass reads from it even when a suffix was appended.
	documentSchema string
}

func newMigrator(cfg *MigrationConfig, report *Reporter) *Migrator {
	return &Migrator{
		cfg:    cfg,
		report: report,
		openRelational: func(ctx context.Context) (RelationalStore, error) {
			s, err := openSQLStore(ctx, cfg.Relational.Type, cfg.Relational.DSN)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		openDocument: func(ctx context.Context) (DocumentStore, error) {
			s, err := openDocumentStore(ctx, cfg.Document)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		openWideColumn: func(ctx context.Context) (Store, error) {
			s, err := openWideColumnStore(ctx, cfg.WideColumn)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// Run executes the enabled passes in order and returns the joined pass errors.
func (m *Migrator) Run(ctx context.Context) error {
	var errs []error
	if m.cfg.Passes.RelationalToDocument {
		if err := m.runPass(ctx, "relational → document", m.relationalToDocument); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", passRelationalToDocument, err))
		}
	}
	if m.cfg.Passes.DocumentToWideColumn {
		if err := m.runPass(ctx, "document → wide-column", m.documentToWideColumn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", passDocumentToWideColumn, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Migrator) runPass(ctx context.Context, title string, pass func(context.Context) error) error {
	m.report.PassStarted(title)
	start := time.Now()
	if err := pass(ctx); err != nil {
		m.report.PassFailed(title, err)
		return err
	}
	m.report.PassDone(title, time.Since(start))
	return nil
}

func (m *Migrator) relationalToDocument(ctx context.Context) error {
	return withStore(ctx, m.openRelational, func(src RelationalStore) error {
		h, err := src.SelectSchema(ctx, m.cfg.Schema)
		if err != nil {
			return err
		}
		m.report.SchemaBound(src.Name(), h)

		if err := loadAndExecSQLFiles(ctx, src, m.cfg, h.Name, m.cfg.Hooks.BeforeExport, "before_export"); err != nil {
			return fmt.Errorf("before_export hooks: %w", err)
		}

		entities, err := src.ListEntities(ctx)
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		log.Printf("  found %d tables", len(entities))

		objs, err := src.SourceObjects(ctx)
		if err != nil {
			return err
		}
		for _, w := range sourceObjectWarnings(objs) {
			log.Printf("  WARN: %s", w)
		}

		pks := PrimaryKeySet{}
		described := make([]Entity, 0, len(entities))
		for _, name := range entities {
			e, err := src.DescribeEntity(ctx, name)
			if err != nil {
				return err
			}
			pks.Add(e)
			described = append(described, e)
		}
		if warnings := collectTypeCompatibilityWarnings(described); len(warnings) > 0 {
			log.Printf("  type compatibility report: %d column(s) lose fidelity", len(warnings))
			for _, w := range warnings {
				log.Printf("    WARN: %s", w)
			}
		}
		fks, err := src.ListForeignKeys(ctx)
		if err != nil {
			return err
		}

		return withStore(ctx, m.openDocument, func(dst DocumentStore) error {
			th, err := dst.CreateSchema(ctx, m.cfg.Schema)
			if err != nil {
				return err
			}
			m.documentSchema = th.Name
			m.report.SchemaBound(dst.Name(), th)

			if err := m.copyEntities(ctx, passRelationalToDocument, src, dst, entities); err != nil {
				return err
			}

			stats, err := resolveReferences(ctx, dst, fks, pks)
			if err != nil {
				return fmt.Errorf("resolve references: %w", err)
			}
			m.report.ReferencesResolved(stats)
			return nil
		})
	})
}

func (m *Migrator) documentToWideColumn(ctx context.Context) error {
	name := m.cfg.Schema
	if m.documentSchema != "" {
		name = m.documentSchema
	}

	return withStore(ctx, m.openDocument, func(src DocumentStore) error {
		h, err := src.SelectSchema(ctx, name)
		if err != nil {
			return err
		}
		m.report.SchemaBound(src.Name(), h)

		entities, err := src.ListEntities(ctx)
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		log.Printf("  found %d collections", len(entities))

		return withStore(ctx, m.openWideColumn, func(dst Store) error {
			th, err := dst.CreateSchema(ctx, m.cfg.Schema)
			if err != nil {
				return err
			}
			m.report.SchemaBound(dst.Name(), th)
			return m.copyEntities(ctx, passDocumentToWideColumn, src, dst, entities)
		})
	})
}

// copyEntities moves every entity from src to dst with up to cfg.Workers
// entities in flight. Under the "abort" policy the first failure stops the
// pass and entities not yet started are skipped; under "report" failures
// are reported and the remaining entities still run.
func (m *Migrator) copyEntities(ctx context.Context, pass string, src, dst Store, entities []string) error {
	abort := m.cfg.isolation(pass) == isolationAbort

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)

	var mu sync.Mutex
	var failed []string
	for _, name := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := copyEntity(gctx, src, dst, name)
			if err == nil {
				m.report.EntityDone(name, n)
				return nil
			}
			if abort && gctx.Err() != nil {
				// another entity already aborted the pass
				return err
			}
			m.report.EntityFailed(name, err)
			if abort {
				return fmt.Errorf("%s: %w", name, err)
			}
			mu.Lock()
			failed = append(failed, name)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		log.Printf("  WARN: %d of %d entities not migrated: %s", len(failed), len(entities), strings.Join(failed, ", "))
	}
	return nil
}

func copyEntity(ctx context.Context, src, dst Store, name string) (int, error) {
	records, err := src.FetchRecords(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := dst.InsertRecords(ctx, name, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
