package domain

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const maxCastNameLength = 1000

// CastMember is an actor credited on a movie.
type CastMember struct {
	id        uuid.UUID
	name      string
	persisted bool
}

func newCastMember(name string) (CastMember, error) {
	err := Validate(validation.Errors{
		"name": validation.Validate(name, validation.Required, validation.RuneLength(1, maxCastNameLength)),
	})
	if err != nil {
		return CastMember{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return CastMember{}, fmt.Errorf("generate cast member id: %w", err)
	}
	return CastMember{id: id, name: name}, nil
}

// RestoreCastMember rebuilds a stored cast member.
func RestoreCastMember(id uuid.UUID, name string) CastMember {
	return CastMember{id: id, name: name, persisted: true}
}

func (c CastMember) ID() uuid.UUID   { return c.id }
func (c CastMember) Name() string    { return c.name }
func (c CastMember) Persisted() bool { return c.persisted }
