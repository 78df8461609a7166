package identity

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewLinearID returns a fresh identifier for a new linear state chain.
func NewLinearID() string {
	return uuid.NewString()
}

// ValidateLinearID checks that id is a well formed linear identifier.
func ValidateLinearID(id string) error {
	if id == "" {
		return errors.New("empty linear id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(err, "malformed linear id %q", id)
	}
	return nil
}
