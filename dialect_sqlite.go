package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// sqliteDialect treats each attached database as a schema. "main" is the
// file named by the DSN; other schemas live in sibling files <name>.db.
type sqliteDialect struct {
	dir string
}

func (s *sqliteDialect) name() string { return "SQLite" }

func (s *sqliteDialect) open(dsn string) (*sql.DB, error) {
	path, err := sqliteFilePath(dsn)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// ATTACH is per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// sqliteFilePath returns the database file behind a DSN.
func sqliteFilePath(dsn string) (string, error) {
	// Reject in-memory databases
	if dsn == ":memory:" || dsn == "file::memory:" || strings.Contains(dsn, "mode=memory") {
		return "", fmt.Errorf("in-memory SQLite databases are not supported (schemas are sibling files)")
	}
	if !strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		path := strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexByte(path, '?'); idx >= 0 {
			path = path[:idx]
		}
		return path, nil
	}
	if u.Path != "" {
		return u.Path, nil
	}
	return u.Opaque, nil
}

func (s *sqliteDialect) quote(name string) string {
	return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
}

func (s *sqliteDialect) qualify(schema, table string) string {
	return s.quote(schema) + "." + s.quote(table)
}

func (s *sqliteDialect) placeholder(int) string { return "?" }

func (s *sqliteDialect) columnType(val any) string {
	switch val.(type) {
	case bool:
		return "TINYINT(1)"
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	case []byte:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (s *sqliteDialect) schemaFile(schema string) string {
	return filepath.Join(s.dir, schema+".db")
}

func (s *sqliteDialect) attached(ctx context.Context, db *sql.DB) ([]string, error) {
	return collectStringRows(ctx, db, `SELECT name FROM pragma_database_list`)
}

func (s *sqliteDialect) schemaExists(ctx context.Context, db *sql.DB, schema string) (bool, error) {
	names, err := s.attached(ctx, db)
	if err != nil {
		return false, err
	}
	if slices.Contains(names, schema) {
		return true, nil
	}
	_, err = os.Stat(s.schemaFile(schema))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteDialect) createSchema(ctx context.Context, db *sql.DB, schema string) error {
	return s.attach(ctx, db, schema)
}

func (s *sqliteDialect) useSchema(ctx context.Context, db *sql.DB, schema string) error {
	names, err := s.attached(ctx, db)
	if err != nil {
		return err
	}
	if slices.Contains(names, schema) {
		return nil
	}
	return s.attach(ctx, db, schema)
}

func (s *sqliteDialect) attach(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE ? AS %s", s.quote(schema)), s.schemaFile(schema))
	return err
}

func (s *sqliteDialect) listTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	return collectStringRows(ctx, db, fmt.Sprintf(
		"SELECT name FROM %s.sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%%' ORDER BY name",
		s.quote(schema)))
}

func (s *sqliteDialect) describeTable(ctx context.Context, db *sql.DB, schema, table string) (Entity, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, schema)
	if err != nil {
		return Entity{}, err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		seq  int
	}
	var pks []pkCol
	e := Entity{Name: table}
	for rows.Next() {
		var name, colType string
		var pk int
		if err := rows.Scan(&name, &colType, &pk); err != nil {
			return Entity{}, err
		}
		e.Fields = append(e.Fields, Field{Name: name, Type: strings.ToLower(colType)})
		if pk > 0 {
			pks = append(pks, pkCol{name, pk})
		}
	}
	if err := rows.Err(); err != nil {
		return Entity{}, err
	}
	slices.SortFunc(pks, func(a, b pkCol) int { return a.seq - b.seq })
	for _, p := range pks {
		e.PrimaryKey = append(e.PrimaryKey, p.name)
	}
	return e, nil
}

func (s *sqliteDialect) listForeignKeys(ctx context.Context, db *sql.DB, schema string) ([]ForeignKey, error) {
	tables, err := s.listTables(ctx, db, schema)
	if err != nil {
		return nil, err
	}

	var fks []ForeignKey
	for _, table := range tables {
		tableFKs, err := s.tableForeignKeys(ctx, db, schema, table)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
		}
		fks = append(fks, tableFKs...)
	}
	return fks, nil
}

func (s *sqliteDialect) tableForeignKeys(ctx context.Context, db *sql.DB, schema, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT "table", "from", "to" FROM pragma_foreign_key_list(?, ?) ORDER BY id, seq`, table, schema)
	if err != nil {
		return nil, err
	}
	var fks []ForeignKey
	var implicit []int // edges whose "to" column defaults to the referenced primary key
	for rows.Next() {
		var refTable, from string
		var to sql.NullString
		if err := rows.Scan(&refTable, &from, &to); err != nil {
			rows.Close()
			return nil, err
		}
		if !to.Valid || to.String == "" {
			implicit = append(implicit, len(fks))
		}
		fks = append(fks, ForeignKey{Table: table, Column: from, RefTable: refTable, RefColumn: to.String})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Resolve after closing rows: the single connection is busy until then.
	for _, i := range implicit {
		ref, err := s.describeTable(ctx, db, schema, fks[i].RefTable)
		if err != nil {
			return nil, err
		}
		if len(ref.PrimaryKey) == 0 {
			return nil, fmt.Errorf("%s.%s references %s, which has no primary key", table, fks[i].Column, fks[i].RefTable)
		}
		fks[i].RefColumn = ref.PrimaryKey[0]
	}
	return fks, nil
}

// listObjects reports views and triggers. SQLite has no stored routines.
func (s *sqliteDialect) listObjects(ctx context.Context, db *sql.DB, schema string) (*SourceObjects, error) {
	objs := &SourceObjects{}
	var err error
	query := fmt.Sprintf("SELECT name FROM %s.sqlite_master WHERE type=? ORDER BY name", s.quote(schema))
	if objs.Views, err = collectStringRows(ctx, db, query, "view"); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	if objs.Triggers, err = collectStringRows(ctx, db, query, "trigger"); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}
	return objs, nil
}
