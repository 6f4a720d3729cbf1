package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

type postgresDialect struct{}

func (p *postgresDialect) name() string { return "PostgreSQL" }

func (p *postgresDialect) open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func (p *postgresDialect) quote(name string) string { return pgIdent(name) }

func (p *postgresDialect) qualify(schema, table string) string {
	return pgIdent(schema) + "." + pgIdent(table)
}

func (p *postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (p *postgresDialect) columnType(val any) string {
	switch val.(type) {
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "bigint"
	case float32, float64:
		return "double precision"
	case []byte:
		return "bytea"
	case time.Time:
		return "timestamp"
	default:
		return "text"
	}
}

func (p *postgresDialect) schemaExists(ctx context.Context, db *sql.DB, schema string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)", schema).Scan(&exists)
	return exists, err
}

func (p *postgresDialect) createSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", pgIdent(schema)))
	return err
}

func (p *postgresDialect) useSchema(context.Context, *sql.DB, string) error { return nil }

func (p *postgresDialect) listTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`,
		schema,
	)
}

func (p *postgresDialect) describeTable(ctx context.Context, db *sql.DB, schema, table string) (Entity, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT c.column_name, c.data_type,
		        EXISTS (
		          SELECT 1
		          FROM information_schema.table_constraints tc
		          JOIN information_schema.key_column_usage kcu
		            ON tc.constraint_name = kcu.constraint_name
		           AND tc.constraint_schema = kcu.constraint_schema
		          WHERE tc.constraint_type = 'PRIMARY KEY'
		            AND tc.table_schema = c.table_schema
		            AND tc.table_name = c.table_name
		            AND kcu.column_name = c.column_name
		        )
		 FROM information_schema.columns c
		 WHERE c.table_schema = $1 AND c.table_name = $2
		 ORDER BY c.ordinal_position`,
		schema, table,
	)
	if err != nil {
		return Entity{}, err
	}
	defer rows.Close()

	e := Entity{Name: table}
	for rows.Next() {
		var name, dataType string
		var isPK bool
		if err := rows.Scan(&name, &dataType, &isPK); err != nil {
			return Entity{}, err
		}
		e.Fields = append(e.Fields, Field{Name: name, Type: strings.ToLower(dataType)})
		if isPK {
			e.PrimaryKey = append(e.PrimaryKey, name)
		}
	}
	return e, rows.Err()
}

func (p *postgresDialect) listForeignKeys(ctx context.Context, db *sql.DB, schema string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT src.relname, sa.attname, ref.relname, ra.attname
		 FROM pg_constraint c
		 JOIN pg_class src ON src.oid = c.conrelid
		 JOIN pg_namespace n ON n.oid = src.relnamespace
		 JOIN pg_class ref ON ref.oid = c.confrelid
		 CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		 JOIN pg_attribute sa ON sa.attrelid = c.conrelid AND sa.attnum = k.attnum
		 JOIN pg_attribute ra ON ra.attrelid = c.confrelid AND ra.attnum = k.refattnum
		 WHERE c.contype = 'f' AND n.nspname = $1
		 ORDER BY src.relname, c.conname, k.ord`,
		schema,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Table, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (p *postgresDialect) listObjects(ctx context.Context, db *sql.DB, schema string) (*SourceObjects, error) {
	objs := &SourceObjects{}
	var err error
	if objs.Views, err = collectStringRows(ctx, db,
		`SELECT table_name FROM information_schema.views WHERE table_schema = $1 ORDER BY table_name`,
		schema,
	); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	if objs.Routines, err = collectStringRows(ctx, db,
		`SELECT upper(routine_type) || ' ' || routine_name FROM information_schema.routines
		 WHERE routine_schema = $1 ORDER BY routine_type, routine_name`,
		schema,
	); err != nil {
		return nil, fmt.Errorf("introspect routines: %w", err)
	}
	if objs.Triggers, err = collectStringRows(ctx, db,
		`SELECT DISTINCT trigger_name FROM information_schema.triggers
		 WHERE trigger_schema = $1 ORDER BY trigger_name`,
		schema,
	); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}
	return objs, nil
}
