package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/model"
	"github.com/recoverly/dunning-engine/internal/repository"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

// customerRepository is a read-only view; the customer subsystem owns the
// table.
type customerRepository struct {
	BaseRepository
}

func NewCustomerRepository(base BaseRepository) repository.CustomerRepository {
	return &customerRepository{base}
}

type customerRow struct {
	model.Customer
	MetadataJSON []byte `db:"metadata"`
}

func (r *customerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	query := `
		SELECT id, name, email, phone_number, metadata
		FROM customers
		WHERE id = $1
	`
	var row customerRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("customer", err)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	customer := row.Customer
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &customer.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &customer, nil
}
