package postgres

import "testing"

func TestPendingMigrations(t *testing.T) {
	tests := []struct {
		name     string
		applied  map[string]bool
		expected []string
	}{
		{"fresh database", nil, []string{"001_create_kv_store.sql", "002_kv_store_updated_at_index.sql"}},
		{"partially applied", map[string]bool{"001_create_kv_store.sql": true}, []string{"002_kv_store_updated_at_index.sql"}},
		{"up to date", map[string]bool{"001_create_kv_store.sql": true, "002_kv_store_updated_at_index.sql": true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pendingMigrations(tt.applied)
			if err != nil {
				t.Fatalf("pendingMigrations: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("migration %d: expected %s, got %s", i, tt.expected[i], got[i])
				}
			}
		})
	}
}
