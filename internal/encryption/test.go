package encryption

import (
	"bytes"
	"fmt"
)

// testHeader marks payloads sealed by TestSealer.
var testHeader = []byte("FSTENC\x00\x00")

// TestSealer is a deterministic, reversible stand-in for tests. It
// prefixes a fixed header so sealed output differs from the plaintext.
type TestSealer struct{}

var (
	_ Sealer = TestSealer{}
	_ Opener = TestSealer{}
)

func (TestSealer) Extension() string { return ".test" }

func (TestSealer) Seal(plaintext []byte) ([]byte, error) {
	return append(append([]byte(nil), testHeader...), plaintext...), nil
}

func (TestSealer) Open(sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return sealed[len(testHeader):], nil
}
