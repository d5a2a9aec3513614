package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

var _ ProvenanceStore = (*MySQLStore)(nil)

// getTestDSN returns the DSN of a disposable MySQL database, e.g.
// TEST_MYSQL_DSN="user:pass@tcp(localhost:3306)/rowflow_test".
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("MySQL tests skipped: set TEST_MYSQL_DSN to run")
	}
	return dsn
}

func cleanupTestTables(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.ExecContext(context.Background(), "DROP TABLE IF EXISTS provenance_records"); err != nil {
		t.Fatalf("drop: %v", err)
	}
}

func TestMySQLStore(t *testing.T) {
	dsn := getTestDSN(t)
	runStoreConformance(t, func(t *testing.T) ProvenanceStore {
		cleanupTestTables(t, dsn)
		s, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewMySQLStore_BadDSN(t *testing.T) {
	if _, err := NewMySQLStore("user:pass@tcp(127.0.0.1:1)/nothing?timeout=200ms"); err == nil {
		t.Fatal("expected connection error")
	}
}
