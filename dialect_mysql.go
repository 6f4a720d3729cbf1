package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type mysqlDialect struct{}

func (m *mysqlDialect) name() string { return "MySQL" }

func (m *mysqlDialect) open(dsn string) (*sql.DB, error) {
	readDSN, err := mysqlDSNWithReadOptions(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", readDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

func (m *mysqlDialect) quote(name string) string {
	return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
}

func (m *mysqlDialect) qualify(schema, table string) string {
	return m.quote(schema) + "." + m.quote(table)
}

func (m *mysqlDialect) placeholder(int) string { return "?" }

func (m *mysqlDialect) columnType(val any) string {
	switch val.(type) {
	case bool:
		return "TINYINT(1)"
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE"
	case []byte:
		return "LONGBLOB"
	case time.Time:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (m *mysqlDialect) schemaExists(ctx context.Context, db *sql.DB, schema string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?`, schema,
	).Scan(&n)
	return n > 0, err
}

func (m *mysqlDialect) createSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, "CREATE DATABASE "+m.quote(schema))
	return err
}

func (m *mysqlDialect) useSchema(context.Context, *sql.DB, string) error { return nil }

func (m *mysqlDialect) listTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	return collectStringRows(ctx, db,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`,
		schema,
	)
}

func (m *mysqlDialect) describeTable(ctx context.Context, db *sql.DB, schema, table string) (Entity, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT COLUMN_NAME, COLUMN_TYPE, COLUMN_KEY
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		schema, table,
	)
	if err != nil {
		return Entity{}, err
	}
	defer rows.Close()

	e := Entity{Name: table}
	for rows.Next() {
		var name, colType, key string
		if err := rows.Scan(&name, &colType, &key); err != nil {
			return Entity{}, err
		}
		e.Fields = append(e.Fields, Field{Name: name, Type: strings.ToLower(colType)})
		if key == "PRI" {
			e.PrimaryKey = append(e.PrimaryKey, name)
		}
	}
	return e, rows.Err()
}

func (m *mysqlDialect) listForeignKeys(ctx context.Context, db *sql.DB, schema string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kcu.TABLE_NAME, kcu.COLUMN_NAME,
		        kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		   ON tc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
		   AND tc.TABLE_NAME = kcu.TABLE_NAME
		   AND tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		 WHERE kcu.TABLE_SCHEMA = ?
		   AND tc.CONSTRAINT_TYPE = 'FOREIGN KEY'
		   AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		 ORDER BY kcu.TABLE_NAME, kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
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

func (m *mysqlDialect) listObjects(ctx context.Context, db *sql.DB, schema string) (*SourceObjects, error) {
	objs := &SourceObjects{}

	views, err := collectStringRows(ctx, db, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	objs.Views = views

	routines, err := collectStringRows(ctx, db, `
		SELECT CONCAT(UPPER(ROUTINE_TYPE), ' ', ROUTINE_NAME)
		FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_TYPE, ROUTINE_NAME
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("introspect routines: %w", err)
	}
	objs.Routines = routines

	triggers, err := collectStringRows(ctx, db, `
		SELECT TRIGGER_NAME
		FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = ?
		ORDER BY TRIGGER_NAME
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}
	objs.Triggers = triggers

	return objs, nil
}
