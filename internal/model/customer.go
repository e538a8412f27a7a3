package model

import (
	"github.com/google/uuid"
)

// Customer is the subset of the customer record the engine reads. The
// customer subsystem owns it; lookups go through CustomerRepository.
type Customer struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	Name        string            `db:"name" json:"name"`
	Email       string            `db:"email" json:"email"`
	PhoneNumber *string           `db:"phone_number" json:"phone_number,omitempty"`
	Metadata    map[string]string `db:"-" json:"metadata,omitempty"`
}
