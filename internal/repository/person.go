package repository

import (
	"context"

	"peopleapi/internal/model"
)

// PersonRepository defines data access for people using SQL queries only.
// Implementations hold no business logic.
type PersonRepository interface {
	// Create inserts a new person record and returns the stored row.
	// A unique constraint violation on email or mobile yields a *DuplicateError.
	Create(ctx context.Context, p *model.Person) (*model.Person, error)

	// FindByID returns a person by its ID.
	FindByID(ctx context.Context, id string) (*model.Person, error)

	// FindByEmail returns the person with the given (lower-case) email.
	FindByEmail(ctx context.Context, email string) (*model.Person, error)

	// FindByMobile returns the person with the given mobile number.
	FindByMobile(ctx context.Context, mobile string) (*model.Person, error)

	// List returns a paginated list of people and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Person], error)

	// Delete removes a person by ID and returns the removed row.
	Delete(ctx context.Context, id string) (*model.Person, error)
}
