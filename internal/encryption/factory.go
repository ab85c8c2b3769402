package encryption

import (
	"fmt"

	"fstrack/internal/config"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
// It returns nil when payloads are archived in the clear.
func NewSealerFromConfig(cfg config.EncryptionConfig) (Sealer, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "age":
		s := NewAgeSealer(cfg)
		if !s.IsConfigured() {
			return nil, fmt.Errorf("age keys not found; run 'fstrack config keygen'")
		}
		return s, nil
	case "test":
		return TestSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
