package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// statementExecer runs one SQL statement. RelationalStore satisfies it.
type statementExecer interface {
	Exec(ctx context.Context, query string) error
}

// loadAndExecSQLFiles runs the hook files of one phase in order against exec.
// "{{schema}}" in a file is replaced by the bound schema name first.
func loadAndExecSQLFiles(ctx context.Context, exec statementExecer, cfg *MigrationConfig, schema string, files []string, phase string) error {
	if len(files) == 0 {
		return nil
	}
	log.Printf("  running %s hooks (%d files)...", phase, len(files))

	for _, f := range files {
		path := cfg.resolvePath(f)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("hook %s: read %s: %w", phase, f, err)
		}

		sql := strings.ReplaceAll(string(data), "{{schema}}", schema)
		stmts := splitStatements(sql)

		log.Printf("    %s: %d statements", f, len(stmts))
		for i, stmt := range stmts {
			if err := exec.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("hook %s: %s: statement %d: %w\nSQL: %s", phase, f, i+1, err, stmt)
			}
		}
	}
	return nil
}

// splitStatements breaks a hook file into statements at top-level
// semicolons. String literals, quoted identifiers, comments and
// dollar-quoted bodies are carried through whole.
func splitStatements(sql string) []string {
	var stmts []string
	start := 0
	for i := 0; i < len(sql); {
		if sql[i] != ';' {
			i = skipToken(sql, i)
			continue
		}
		stmts = appendStatement(stmts, sql[start:i])
		i++
		start = i
	}
	return appendStatement(stmts, sql[start:])
}

func appendStatement(stmts []string, stmt string) []string {
	if stmt = strings.TrimSpace(stmt); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts
}

// skipToken returns the offset just past the lexical unit that starts at i.
func skipToken(sql string, i int) int {
	switch c := sql[i]; {
	case c == '\'' || c == '"' || c == '`':
		return skipQuoted(sql, i, c)
	case strings.HasPrefix(sql[i:], "--"):
		if n := strings.IndexByte(sql[i:], '\n'); n >= 0 {
			return i + n + 1
		}
		return len(sql)
	case strings.HasPrefix(sql[i:], "/*"):
		return skipBlockComment(sql, i)
	case c == '$':
		if tag, ok := parseDollarTag(sql, i); ok {
			body := i + len(tag)
			if n := strings.Index(sql[body:], tag); n >= 0 {
				return body + n + len(tag)
			}
			return len(sql)
		}
	}
	return i + 1
}

// skipQuoted consumes text opened by the quote q. A doubled q is an escape.
func skipQuoted(sql string, i int, q byte) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != q {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

// skipBlockComment consumes a /* */ comment. Comments nest, as in PostgreSQL.
func skipBlockComment(sql string, i int) int {
	depth := 0
	for j := i; j < len(sql); {
		switch {
		case strings.HasPrefix(sql[j:], "/*"):
			depth++
			j += 2
		case strings.HasPrefix(sql[j:], "*/"):
			depth--
			j += 2
			if depth == 0 {
				return j
			}
		default:
			j++
		}
	}
	return len(sql)
}

// parseDollarTag reports the $tag$ opening a dollar-quoted body at i.
// Positional parameters such as $1 are not tags.
func parseDollarTag(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) && isTagByte(sql[j], j == i+1) {
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		return sql[i : j+1], true
	}
	return "", false
}

func isTagByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
