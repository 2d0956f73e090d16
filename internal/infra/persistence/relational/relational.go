// Package relational mirrors committed society changes into a SQL database.
// The in-memory store stays the transaction engine; every commit upserts the
// touched norm and case rows inside one SQL transaction before the new state
// becomes visible, so a failed write leaves both sides unchanged.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"optimus/internal/infra/persistence/memory"
	"optimus/internal/infra/persistence/schema"
	"optimus/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const timeLayout = time.RFC3339Nano

// Dialect captures the per-database differences the mirror cares about.
type Dialect struct {
	Name string
	DDL  string
	bind func(n int) string
}

// SQLite uses positional question-mark placeholders.
var SQLite = Dialect{Name: "sqlite", DDL: schema.SQLite(), bind: func(int) string { return "?" }}

// Postgres uses numbered placeholders.
var Postgres = Dialect{Name: "postgres", DDL: schema.Postgres(), bind: func(n int) string { return "$" + strconv.Itoa(n) }}

func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(i + 1)
	}
	return strings.Join(parts, ",")
}

var (
	normColumns = []string{"id", "text", "valid", "complexity", "constitutional", "created_at"}
	caseColumns = []string{"id", "text", "norm_id", "constitutional", "status", "decision", "created_at", "resolved_at"}
)

func upsertSQL(d Dialect, table string, cols []string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+"=excluded."+c)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ","), d.placeholders(len(cols)), cols[0], strings.Join(sets, ","))
}

// Store is a memory store whose commits are mirrored to SQL.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
}

// Open applies the dialect DDL, hydrates the memory store from existing rows,
// and installs the commit mirror.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if err := ApplySchema(ctx, db, dialect); err != nil {
		return nil, err
	}
	snapshot, err := Load(ctx, db)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, dialect: dialect}
	opts = append(opts, memory.WithCommitHook(s.persist))
	s.Store = memory.NewStore(engine, opts...)
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() string { return s.dialect.Name }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) persist(ctx context.Context, changes []domain.Change) error {
	return Persist(ctx, s.db, s.dialect, changes)
}

// ApplySchema executes every DDL statement of the dialect.
func ApplySchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range schema.SplitStatements(dialect.DDL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Load reads every norm and case into a memory snapshot.
func Load(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Norms: make(map[int64]domain.Norm),
		Cases: make(map[int64]domain.Case),
	}
	if err := loadNorms(ctx, db, snapshot.Norms); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadCases(ctx, db, snapshot.Cases); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func loadNorms(ctx context.Context, db *sql.DB, into map[int64]domain.Norm) error {
	rows, err := db.QueryContext(ctx, "SELECT "+strings.Join(normColumns, ", ")+" FROM norms ORDER BY id")
	if err != nil {
		return fmt.Errorf("select norms: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			n       domain.Norm
			created string
		)
		if err := rows.Scan(&n.ID, &n.Text, &n.Valid, &n.Complexity, &n.Constitutional, &created); err != nil {
			return fmt.Errorf("scan norm: %w", err)
		}
		if n.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("decode norm %d created_at: %w", n.ID, err)
		}
		into[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate norms: %w", err)
	}
	return nil
}

func loadCases(ctx context.Context, db *sql.DB, into map[int64]domain.Case) error {
	rows, err := db.QueryContext(ctx, "SELECT "+strings.Join(caseColumns, ", ")+" FROM cases ORDER BY id")
	if err != nil {
		return fmt.Errorf("select cases: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			c        domain.Case
			status   string
			decision sql.NullString
			created  string
			resolved sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Text, &c.NormID, &c.Constitutional, &status, &decision, &created, &resolved); err != nil {
			return fmt.Errorf("scan case: %w", err)
		}
		c.Status = domain.CaseStatus(status)
		if decision.Valid {
			d := domain.Decision(decision.String)
			c.Decision = &d
		}
		if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("decode case %d created_at: %w", c.ID, err)
		}
		if resolved.Valid {
			at, err := time.Parse(timeLayout, resolved.String)
			if err != nil {
				return fmt.Errorf("decode case %d resolved_at: %w", c.ID, err)
			}
			c.ResolvedAt = &at
		}
		into[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cases: %w", err)
	}
	return nil
}

// Persist upserts the post-image of every change in a single SQL transaction.
// Norms are written before cases so foreign keys resolve.
func Persist(ctx context.Context, db *sql.DB, dialect Dialect, changes []domain.Change) error {
	var norms []domain.Norm
	var cases []domain.Case
	for _, ch := range changes {
		switch after := ch.After.(type) {
		case domain.Norm:
			norms = append(norms, after)
		case domain.Case:
			cases = append(cases, after)
		}
	}
	if len(norms) == 0 && len(cases) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	normSQL := upsertSQL(dialect, "norms", normColumns)
	for _, n := range norms {
		if _, err := tx.ExecContext(ctx, normSQL,
			n.ID, n.Text, n.Valid, n.Complexity, n.Constitutional, n.CreatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("upsert norm %d: %w", n.ID, err)
		}
	}
	caseSQL := upsertSQL(dialect, "cases", caseColumns)
	for _, c := range cases {
		var decision, resolved sql.NullString
		if c.Decision != nil {
			decision = sql.NullString{String: string(*c.Decision), Valid: true}
		}
		if c.ResolvedAt != nil {
			resolved = sql.NullString{String: c.ResolvedAt.UTC().Format(timeLayout), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, caseSQL,
			c.ID, c.Text, c.NormID, c.Constitutional, string(c.Status), decision, c.CreatedAt.UTC().Format(timeLayout), resolved); err != nil {
			return fmt.Errorf("upsert case %d: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
