package relational

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"optimus/internal/infra/persistence/memory"
	"optimus/internal/infra/persistence/sqlstub"
	"optimus/pkg/domain"
)

var epoch = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

func openStub(t *testing.T, dialect Dialect) (*Store, *sqlstub.Conn) {
	t.Helper()
	db, conn := sqlstub.NewDB()
	store, err := Open(context.Background(), db, dialect, nil, memory.WithClock(func() time.Time { return epoch }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store, conn
}

func seedNormAndCase(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		n, err := tx.CreateNorm(domain.Norm{Text: "Law 1", Valid: true, Complexity: 5, Constitutional: true})
		if err != nil {
			return err
		}
		_, err = tx.CreateCase(domain.Case{Text: "Case 1", NormID: n.ID, Constitutional: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestUpsertSQLPerDialect(t *testing.T) {
	got := upsertSQL(Postgres, "norms", []string{"id", "text"})
	want := "INSERT INTO norms(id,text) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET text=excluded.text"
	if got != want {
		t.Fatalf("postgres upsert\n got %s\nwant %s", got, want)
	}
	if got := upsertSQL(SQLite, "norms", []string{"id", "text"}); !strings.Contains(got, "VALUES(?,?)") {
		t.Fatalf("sqlite placeholders missing: %s", got)
	}
}

func TestOpenAppliesSchemaAndMirrorsCommits(t *testing.T) {
	store, conn := openStub(t, Postgres)
	if store.Dialect() != "postgres" || store.DB() == nil {
		t.Fatalf("unexpected store metadata")
	}
	ddl := 0
	for _, stmt := range conn.Execs {
		if strings.HasPrefix(stmt, "CREATE") {
			ddl++
		}
	}
	if ddl != 4 {
		t.Fatalf("expected 4 ddl statements, got %d", ddl)
	}
	seedNormAndCase(t, store)

	norms := conn.Rows("norms")
	if len(norms) != 1 || norms[0]["text"] != "Law 1" || norms[0]["created_at"] != epoch.Format(timeLayout) {
		t.Fatalf("unexpected norm rows %+v", norms)
	}
	cases := conn.Rows("cases")
	if len(cases) != 1 || cases[0]["status"] != "pending" || cases[0]["decision"] != nil {
		t.Fatalf("unexpected case rows %+v", cases)
	}

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateCase(1, func(c *domain.Case) error {
			d := domain.DecisionAccepted
			at := epoch.Add(time.Hour)
			c.Status = domain.CaseStatusSolved
			c.Decision = &d
			c.ResolvedAt = &at
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	cases = conn.Rows("cases")
	if len(cases) != 1 || cases[0]["decision"] != "Accepted" || cases[0]["status"] != "solved" {
		t.Fatalf("expected upserted case row, got %+v", cases)
	}
}

func TestOpenHydratesFromRows(t *testing.T) {
	store, conn := openStub(t, SQLite)
	seedNormAndCase(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateCase(1, func(c *domain.Case) error {
			d := domain.DecisionRejected
			at := epoch.Add(2 * time.Hour)
			c.Status = domain.CaseStatusSolved
			c.Decision = &d
			c.ResolvedAt = &at
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}

	reopened, err := Open(context.Background(), store.DB(), SQLite, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	n, ok := reopened.GetNorm(1)
	if !ok || n.Complexity != 5 || !n.Valid || !n.CreatedAt.Equal(epoch) {
		t.Fatalf("unexpected hydrated norm %+v", n)
	}
	c, ok := reopened.GetCase(1)
	if !ok || !c.Solved() || *c.Decision != domain.DecisionRejected || !c.ResolvedAt.Equal(epoch.Add(2*time.Hour)) {
		t.Fatalf("unexpected hydrated case %+v", c)
	}
	_, err = reopened.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		created, err := tx.CreateNorm(domain.Norm{Text: "Law 2", Valid: true, Complexity: 1})
		if created.ID != 2 {
			t.Fatalf("expected sequence to continue at 2, got %d", created.ID)
		}
		return err
	})
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}
	if len(conn.Rows("norms")) != 2 {
		t.Fatalf("expected two norm rows")
	}
}

func TestPersistFailureRollsBackMemory(t *testing.T) {
	store, conn := openStub(t, Postgres)
	conn.FailTables["cases"] = true
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		n, err := tx.CreateNorm(domain.Norm{Text: "Law", Valid: true, Complexity: 2})
		if err != nil {
			return err
		}
		_, err = tx.CreateCase(domain.Case{NormID: n.ID})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "upsert case") {
		t.Fatalf("expected upsert failure, got %v", err)
	}
	if len(store.ListNorms()) != 0 || len(conn.Rows("norms")) != 0 {
		t.Fatalf("failed mirror must not leave partial state")
	}

	conn.FailTables["cases"] = false
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateNorm(domain.Norm{Text: "Law", Valid: true, Complexity: 2})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if len(store.ListNorms()) != 0 {
		t.Fatalf("commit failure must roll back memory")
	}

	conn.FailCommit = false
	conn.FailBegin = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateNorm(domain.Norm{Text: "Law", Valid: true, Complexity: 2})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "begin") {
		t.Fatalf("expected begin failure, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	db, conn := sqlstub.NewDB()
	conn.FailDDL = true
	if _, err := Open(context.Background(), db, SQLite, nil); err == nil || !strings.Contains(err.Error(), "ddl") {
		t.Fatalf("expected ddl error, got %v", err)
	}

	db, conn = sqlstub.NewDB()
	conn.FailTables["norms"] = true
	if _, err := Open(context.Background(), db, SQLite, nil); err == nil || !strings.Contains(err.Error(), "select norms") {
		t.Fatalf("expected select error, got %v", err)
	}

	db, conn = sqlstub.NewDB()
	conn.Insert("norms", map[string]any{"id": int64(1), "text": "x", "valid": true, "complexity": int64(1), "constitutional": true, "created_at": "yesterday"})
	if _, err := Open(context.Background(), db, SQLite, nil); err == nil || !strings.Contains(err.Error(), "created_at") {
		t.Fatalf("expected timestamp decode error, got %v", err)
	}

	db, conn = sqlstub.NewDB()
	conn.RowsErr = errors.New("cursor lost")
	if _, err := Open(context.Background(), db, SQLite, nil); err == nil || !strings.Contains(err.Error(), "iterate norms") {
		t.Fatalf("expected iterate error, got %v", err)
	}
}

func TestPersistSkipsEmptyChangeSets(t *testing.T) {
	db, conn := sqlstub.NewDB()
	conn.FailBegin = true
	if err := Persist(context.Background(), db, SQLite, []domain.Change{{Entity: domain.EntityNorm}}); err != nil {
		t.Fatalf("changes without post-images must not open a transaction: %v", err)
	}
}
