package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/taskmaster/internal/store/postgres"
	"github.com/loykin/taskmaster/internal/store/sqlite"
)

func TestNewFromDSN(t *testing.T) {
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("empty DSN should fail")
	}
	if _, err := NewFromDSN("   "); err == nil {
		t.Fatalf("blank DSN should fail")
	}

	st, err := NewFromDSN("sqlite://" + filepath.Join(t.TempDir(), "tm.db"))
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	if _, ok := st.(*sqlite.DB); !ok {
		t.Fatalf("sqlite scheme produced %T", st)
	}
	_ = st.Close()

	st, err = NewFromDSN(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	if _, ok := st.(*sqlite.DB); !ok {
		t.Fatalf("bare path produced %T", st)
	}
	_ = st.Close()

	// sql.Open defers connecting, so building the postgres store succeeds
	// without a server.
	st, err = NewFromDSN("postgres://u:p@localhost:5432/db")
	if err != nil {
		t.Fatalf("postgres scheme: %v", err)
	}
	if _, ok := st.(*postgres.DB); !ok {
		t.Fatalf("postgres scheme produced %T", st)
	}
	_ = st.Close()
}
