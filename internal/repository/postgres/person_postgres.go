package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"peopleapi/internal/model"
	"peopleapi/internal/repository"
)

const uniqueViolation = "23505"

// constraintFields maps unique constraint names from the people schema to form fields.
var constraintFields = map[string]string{
	"people_email_key":  "email",
	"people_mobile_key": "mobile",
}

const personColumns = `id, name, email, mobile, password_hash, avatar, role, created_at, updated_at`

// PersonPostgres is a PostgreSQL implementation of repository.PersonRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type PersonPostgres struct {
	db *sql.DB
}

// NewPersonPostgres creates a new PersonPostgres repository.
func NewPersonPostgres(db *sql.DB) *PersonPostgres {
	return &PersonPostgres{db: db}
}

var _ repository.PersonRepository = (*PersonPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (*model.Person, error) {
	var (
		p      model.Person
		avatar sql.NullString
		role   string
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Mobile,
		&p.PasswordHash,
		&avatar,
		&role,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Avatar = avatar.String
	p.Role = model.Role(role)
	return &p, nil
}

// Create inserts a new person row and returns the stored record.
func (r *PersonPostgres) Create(ctx context.Context, p *model.Person) (*model.Person, error) {
	const q = `
		INSERT INTO people (id, name, email, mobile, password_hash, avatar, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + personColumns
	row := r.db.QueryRowContext(ctx, q,
		p.ID,
		p.Name,
		p.Email,
		p.Mobile,
		p.PasswordHash,
		sql.NullString{String: p.Avatar, Valid: p.Avatar != ""},
		string(p.Role),
		p.CreatedAt,
		p.UpdatedAt,
	)
	out, err := scanPerson(row)
	if err != nil {
		return nil, mapConstraintErr(err)
	}
	return out, nil
}

// mapConstraintErr turns a unique violation into a *repository.DuplicateError.
func mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = "common"
		}
		return &repository.DuplicateError{Field: field, Err: err}
	}
	return err
}

// FindByID fetches a single person by its ID.
func (r *PersonPostgres) FindByID(ctx context.Context, id string) (*model.Person, error) {
	const q = `SELECT ` + personColumns + ` FROM people WHERE id = $1`
	return scanPerson(r.db.QueryRowContext(ctx, q, id))
}

// FindByEmail fetches a single person by email.
func (r *PersonPostgres) FindByEmail(ctx context.Context, email string) (*model.Person, error) {
	const q = `SELECT ` + personColumns + ` FROM people WHERE email = $1`
	return scanPerson(r.db.QueryRowContext(ctx, q, email))
}

// FindByMobile fetches a single person by mobile number.
func (r *PersonPostgres) FindByMobile(ctx context.Context, mobile string) (*model.Person, error) {
	const q = `SELECT ` + personColumns + ` FROM people WHERE mobile = $1`
	return scanPerson(r.db.QueryRowContext(ctx, q, mobile))
}

// List returns people using LIMIT/OFFSET pagination and a total count.
func (r *PersonPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Person], error) {
	const qCount = `SELECT COUNT(*) FROM people`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + personColumns + `
		FROM people
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Person]{
		Items: items,
		Total: total,
	}, nil
}

// Delete removes a person by ID and returns the deleted row, or sql.ErrNoRows.
func (r *PersonPostgres) Delete(ctx context.Context, id string) (*model.Person, error) {
	const q = `DELETE FROM people WHERE id = $1 RETURNING ` + personColumns
	return scanPerson(r.db.QueryRowContext(ctx, q, id))
}
