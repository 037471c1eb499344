package database

import (
	"testing"
	"testing/fstest"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.up.sql":            {Data: []byte("CREATE INDEX x ON t (c);")},
		"001_create_deployments.up.sql":   {Data: []byte("CREATE TABLE t (c INT);")},
		"001_create_deployments.down.sql": {Data: []byte("DROP TABLE t;")},
		"README.md":                       {Data: []byte("notes")},
		"archive/000_old.up.sql":          {Data: []byte("SELECT 1;")},
	}

	got, err := pendingMigrations(fsys, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"001_create_deployments.up.sql", "002_add_index.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pending[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	got, err = pendingMigrations(fsys, map[string]bool{"001_create_deployments.up.sql": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "002_add_index.up.sql" {
		t.Errorf("pending after apply = %v, want [002_add_index.up.sql]", got)
	}
}
