package main

import (
	"fmt"
	"strings"
)

// generateCreateTable produces a relational CREATE TABLE statement whose
// column types are inferred from the first record being inserted.
func generateCreateTable(d sqlDialect, schema, table string, first Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", d.qualify(schema, table))

	fields := first.Fields()
	for i, field := range fields {
		val, _ := first.Get(field)
		fmt.Fprintf(&b, "  %s %s", d.quote(field), d.columnType(val))
		if i < len(fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}

	b.WriteString(")")
	return b.String()
}

// generateInsert produces a single-row INSERT for the given columns.
func generateInsert(d sqlDialect, schema, table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
		params[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.qualify(schema, table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// generateCreateTableCQL produces the CREATE TABLE statement for an
// inferred wide-column table.
func generateCreateTableCQL(keyspace string, t wideColumnTable) string {
	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		def := col.Name + " " + col.Type
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (%s)", keyspace, t.Name, strings.Join(defs, ", "))
}

func generateInsertCQL(keyspace string, t wideColumnTable) string {
	names := make([]string, len(t.Columns))
	params := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
		params[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		keyspace, t.Name, strings.Join(names, ", "), strings.Join(params, ", "))
}

func generateCreateKeyspaceCQL(keyspace string, replicationFactor int) string {
	return fmt.Sprintf(
		"CREATE KEYSPACE %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }",
		keyspace, replicationFactor)
}
