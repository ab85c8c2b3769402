// Package encryption seals event payloads before they leave the process
// for archival storage.
package encryption

// Sealer encrypts a payload for archival.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	// Extension is appended to object names holding sealed payloads.
	Extension() string
}

// Opener reverses a Sealer.
type Opener interface {
	Open(sealed []byte) ([]byte, error)
}
