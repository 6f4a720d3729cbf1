//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestIntegration_MySQLMongoCassandra runs both passes against real servers.
// MYSQL_DSN must name a scratch database; it is dropped and recreated.
func TestIntegration_MySQLMongoCassandra(t *testing.T) {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	mongoURI := os.Getenv("MONGODB_URI")
	cassandraHosts := os.Getenv("CASSANDRA_HOSTS")
	if mysqlDSN == "" || mongoURI == "" || cassandraHosts == "" {
		t.Skip("MYSQL_DSN, MONGODB_URI and CASSANDRA_HOSTS env vars required")
	}

	ctx := context.Background()

	// --- Seed MySQL ---
	mysqlDB, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	// FOREIGN_KEY_CHECKS is per session
	mysqlDB.SetMaxOpenConns(1)
	seedMySQL(t, mysqlDB)
	mysqlDB.Close()

	schema, err := extractMySQLDBName(mysqlDSN)
	if err != nil {
		t.Fatalf("extract db name: %v", err)
	}

	// --- Write temp config ---
	tmpDir := t.TempDir()
	tomlContent := fmt.Sprintf(`schema = %q
workers = 2

[relational]
type = "mysql"
dsn = %q

[document]
uri = %q

[wide_column]
hosts = [%s]
consistency = "one"
`, schema, mysqlDSN, mongoURI, quoteList(strings.Split(cassandraHosts, ",")))

	cfgPath := filepath.Join(tmpDir, "migration.toml")
	if err := os.WriteFile(cfgPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadConfig(cfgPath, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	// --- Prepare targets ---
	docs, err := openDocumentStore(ctx, cfg.Document)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	defer docs.Close(ctx)
	wide, err := openWideColumnStore(ctx, cfg.WideColumn)
	if err != nil {
		t.Fatalf("connect cassandra: %v", err)
	}
	defer wide.Close(ctx)

	keyspace := cqlName(schema)
	dropTargets := func(database string) {
		_ = docs.client.Database(database).Drop(context.Background())
		_ = wide.session.Query("DROP KEYSPACE IF EXISTS " + keyspace).Exec()
	}
	dropTargets(schema)

	// --- Run both passes ---
	var out bytes.Buffer
	m := newMigrator(cfg, newReporter(&out, false))
	t.Cleanup(func() { dropTargets(m.documentSchema) })
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v\n%s", err, out.String())
	}
	if m.documentSchema != schema {
		t.Fatalf("document database = %q, want %q", m.documentSchema, schema)
	}

	// --- Document assertions ---
	if _, err := docs.SelectSchema(ctx, schema); err != nil {
		t.Fatalf("select mongo database: %v", err)
	}
	users, err := docs.FetchRecords(ctx, "users")
	if err != nil {
		t.Fatalf("fetch users: %v", err)
	}
	if len(users) != 5 {
		t.Fatalf("expected 5 users, got %d", len(users))
	}
	for _, u := range users {
		if _, ok := u.Get("id"); ok {
			t.Errorf("user still carries relational id: %v", u.Fields())
		}
	}

	comments, err := docs.FetchRecords(ctx, "comments")
	if err != nil {
		t.Fatalf("fetch comments: %v", err)
	}
	if len(comments) != 12 {
		t.Fatalf("expected 12 comments, got %d", len(comments))
	}
	dangling := 0
	for _, c := range comments {
		for _, gone := range []string{"post_id", "user_id"} {
			if _, ok := c.Get(gone); ok {
				t.Errorf("comment still has %s", gone)
			}
		}
		if ref, _ := c.Get("users_id"); !isObjectID(ref) {
			t.Errorf("comment users_id = %#v, want an identifier", ref)
		}
		// the two orphan comments keep their raw post ids
		if ref, _ := c.Get("posts_id"); !isObjectID(ref) {
			dangling++
		}
	}
	if dangling != 2 {
		t.Errorf("expected 2 dangling post references, got %d", dangling)
	}

	// --- Wide-column assertions ---
	if _, err := wide.SelectSchema(ctx, schema); err != nil {
		t.Fatalf("select keyspace: %v", err)
	}
	tables, err := wide.ListEntities(ctx)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if strings.Join(tables, ",") != "comments,posts,users" {
		t.Errorf("tables = %v, want [comments posts users]", tables)
	}
	posts, err := wide.FetchRecords(ctx, "posts")
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if len(posts) != 5 {
		t.Fatalf("expected 5 posts, got %d", len(posts))
	}
	e, err := wide.DescribeEntity(ctx, "posts")
	if err != nil {
		t.Fatalf("describe posts: %v", err)
	}
	if strings.Join(e.PrimaryKey, ",") != "id" {
		t.Errorf("posts primary key = %v, want [id]", e.PrimaryKey)
	}
	for _, want := range []string{"usersid", "title", "body"} {
		if !strings.Contains(strings.Join(e.FieldNames(), ","), want) {
			t.Errorf("posts columns %v missing %s", e.FieldNames(), want)
		}
	}
}

// TestIntegration_PostgresCompositeForeignKey checks that each column of a
// composite foreign key pairs with its own referenced column.
func TestIntegration_PostgresCompositeForeignKey(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN env var required")
	}

	ctx := context.Background()
	s, err := openSQLStore(ctx, "postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })

	const schema = "schemaferry_fk_it"
	t.Cleanup(func() { _ = s.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE") })
	for _, stmt := range []string{
		"DROP SCHEMA IF EXISTS " + schema + " CASCADE",
		"CREATE SCHEMA " + schema,
		"CREATE TABLE " + schema + ".orders (region TEXT, num INT, PRIMARY KEY (region, num))",
		"CREATE TABLE " + schema + ".lines (id INT PRIMARY KEY, order_region TEXT, order_num INT," +
			" FOREIGN KEY (order_region, order_num) REFERENCES " + schema + ".orders (region, num))",
	} {
		if err := s.Exec(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	if _, err := s.SelectSchema(ctx, schema); err != nil {
		t.Fatalf("select schema: %v", err)
	}

	fks, err := s.ListForeignKeys(ctx)
	if err != nil {
		t.Fatalf("ListForeignKeys() error: %v", err)
	}
	want := []ForeignKey{
		{Table: "lines", Column: "order_region", RefTable: "orders", RefColumn: "region"},
		{Table: "lines", Column: "order_num", RefTable: "orders", RefColumn: "num"},
	}
	if diff := cmp.Diff(want, fks); diff != "" {
		t.Errorf("ListForeignKeys() mismatch (-want +got):\n%s", diff)
	}
}

func seedMySQL(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []string{
		"DROP TABLE IF EXISTS comments",
		"DROP TABLE IF EXISTS posts",
		"DROP TABLE IF EXISTS users",

		`CREATE TABLE users (
			id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			email VARCHAR(200) NULL,
			active TINYINT(1) NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE posts (
			id INT AUTO_INCREMENT PRIMARY KEY,
			user_id INT NOT NULL,
			title VARCHAR(200) NOT NULL,
			body TEXT,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE comments (
			id INT AUTO_INCREMENT PRIMARY KEY,
			post_id INT NOT NULL,
			user_id INT NOT NULL,
			content TEXT,
			FOREIGN KEY (post_id) REFERENCES posts(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,

		"INSERT INTO users (name, email) VALUES ('Alice', 'alice@example.com')",
		"INSERT INTO users (name, email, active) VALUES ('Bob', NULL, 0)",
		"INSERT INTO users (name, email) VALUES ('Charlie', 'charlie@example.com')",
		"INSERT INTO users (name, email) VALUES ('Diana', 'diana@example.com')",
		"INSERT INTO users (name, email) VALUES ('Eve', NULL)",

		"INSERT INTO posts (user_id, title, body) VALUES (1, 'First Post', 'Hello world')",
		"INSERT INTO posts (user_id, title, body) VALUES (2, 'Bobs Post', 'Content here')",
		"INSERT INTO posts (user_id, title, body) VALUES (3, 'Thoughts', 'Some thoughts')",
		"INSERT INTO posts (user_id, title, body) VALUES (4, 'Update', NULL)",
		"INSERT INTO posts (user_id, title, body) VALUES (5, 'Hello', 'Eve here')",

		"INSERT INTO comments (post_id, user_id, content) VALUES (1, 2, 'Nice post!')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (1, 3, 'Great read')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (2, 1, 'Thanks Bob')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (2, 4, 'Interesting')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (3, 5, 'I agree')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (3, 1, 'Me too')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (4, 2, 'Good update')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (4, 3, 'Thanks')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (5, 1, 'Welcome Eve')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (5, 4, 'Hi Eve!')",

		"SET FOREIGN_KEY_CHECKS=0",
		"INSERT INTO comments (post_id, user_id, content) VALUES (999, 1, 'Orphan 1')",
		"INSERT INTO comments (post_id, user_id, content) VALUES (998, 2, 'Orphan 2')",
		"SET FOREIGN_KEY_CHECKS=1",
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed mysql %q: %v", stmt[:min(len(stmt), 60)], err)
		}
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", strings.TrimSpace(s))
	}
	return strings.Join(quoted, ", ")
}

func isObjectID(v any) bool {
	_, ok := v.(bson.ObjectID)
	return ok
}
