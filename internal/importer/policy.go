package importer

import "fmt"

// ChangePolicy decides when an entry seen again counts as changed.
type ChangePolicy string

const (
	// PolicyMTime treats an entry as changed when its mtime differs.
	PolicyMTime ChangePolicy = "mtime"
	// PolicyMTimeSize also treats a size difference as a change.
	PolicyMTimeSize ChangePolicy = "mtime+size"
)

// ParseChangePolicy accepts "mtime", "mtime+size" or "" (mtime).
func ParseChangePolicy(s string) (ChangePolicy, error) {
	switch ChangePolicy(s) {
	case "", PolicyMTime:
		return PolicyMTime, nil
	case PolicyMTimeSize:
		return PolicyMTimeSize, nil
	}
	return "", fmt.Errorf("unknown change policy %q", s)
}

// condition is the upsert guard comparing the live row with the staged one.
func (p ChangePolicy) condition() string {
	if p == PolicyMTimeSize {
		return "entries.mtime <> excluded.mtime OR entries.bytes <> excluded.bytes"
	}
	return "entries.mtime <> excluded.mtime"
}
