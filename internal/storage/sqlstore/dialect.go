package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the differences between the SQL engines the store runs on.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// SeqColumn is the column definition for the auto-incrementing row sequence.
	SeqColumn string
}

// SQLite uses ? placeholders and an AUTOINCREMENT rowid.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	SeqColumn:   "seq INTEGER PRIMARY KEY AUTOINCREMENT",
}

// Postgres uses $n placeholders and a BIGSERIAL sequence.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	SeqColumn:   "seq BIGSERIAL PRIMARY KEY",
}

// bind rewrites ? markers in query into the dialect's placeholders.
func (d Dialect) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS feedback (
			` + d.SeqColumn + `,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			category TEXT NOT NULL,
			platform TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback (user_id)`,
		`CREATE TABLE IF NOT EXISTS allocations (
			` + d.SeqColumn + `,
			user_id TEXT NOT NULL,
			activities TEXT NOT NULL,
			unit TEXT NOT NULL,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_user ON allocations (user_id)`,
		`CREATE TABLE IF NOT EXISTS problems (
			` + d.SeqColumn + `,
			id TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			frequency_count INTEGER NOT NULL,
			first_reported BIGINT NOT NULL,
			last_reported BIGINT NOT NULL
		)`,
	}
}
