package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is returned for a configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the relations between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.Outbox.RetryInitial.Duration <= 0 || c.Outbox.RetryMax.Duration < c.Outbox.RetryInitial.Duration {
		return fmt.Errorf("%w: outbox retry_max must be at least retry_initial, both positive", ErrInvalid)
	}
	if c.Outbox.RecoverInterval.Duration <= 0 {
		return fmt.Errorf("%w: outbox recover_interval must be positive", ErrInvalid)
	}
	if c.Encryption.Type == "age" && (c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "") {
		return fmt.Errorf("%w: age encryption needs both key paths", ErrInvalid)
	}
	return nil
}
