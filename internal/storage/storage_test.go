package storage

import "testing"

func TestHooksRunInOrder(t *testing.T) {
	var h Hooks
	var got []int
	for i := 1; i <= 3; i++ {
		h.OnCommit(func() { got = append(got, i) })
	}
	h.RunHooks()

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("hooks ran as %v, want [1 2 3]", got)
	}
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		from, n int
		want    string
	}{
		{1, 0, ""},
		{1, 1, "$1"},
		{3, 3, "$3, $4, $5"},
	}
	for _, tt := range tests {
		if got := Placeholders(tt.from, tt.n); got != tt.want {
			t.Errorf("Placeholders(%d, %d) = %q, want %q", tt.from, tt.n, got, tt.want)
		}
	}
}

func TestPartitionName(t *testing.T) {
	if got := PartitionName("entries", 42); got != "entries_t42" {
		t.Errorf("PartitionName = %q", got)
	}
}
