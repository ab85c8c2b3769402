package postgres

import "testing"

func TestDialect(t *testing.T) {
	d := Dialect{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"create partition", d.CreatePartition("entries", 7), `CREATE TABLE IF NOT EXISTS "entries_t7" PARTITION OF "entries" FOR VALUES IN (7)`},
		{"drop partition", d.DropPartition("removed", 7), `DROP TABLE IF EXISTS "removed_t7"`},
		{"for update", d.ForUpdate(false), " FOR UPDATE"},
		{"skip locked", d.ForUpdate(true), " FOR UPDATE SKIP LOCKED"},
		{"temp table", d.TempTable("s", "a TEXT"), "CREATE TEMPORARY TABLE s (a TEXT) ON COMMIT DROP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
