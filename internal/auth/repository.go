package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRepository implements ExperimenterRepository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new experimenter into the database
func (r *PostgresRepository) Create(ctx context.Context, e *Experimenter) error {
	e.ID = uuid.New().String()

	query := `
		INSERT INTO experimenters (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.Email,
		e.Name,
		e.PasswordHash,
		e.CreatedAt,
		e.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create experimenter: %w", err)
	}

	return nil
}

// GetByID retrieves an experimenter by ID
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Experimenter, error) {
	query := `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM experimenters
		WHERE id = $1
	`

	e, err := scanExperimenter(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrExperimenterNotFound
		}
		return nil, fmt.Errorf("failed to get experimenter by ID: %w", err)
	}

	return e, nil
}

// GetByEmail retrieves an experimenter by email address
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Experimenter, error) {
	query := `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM experimenters
		WHERE email = $1
	`

	e, err := scanExperimenter(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrExperimenterNotFound
		}
		return nil, fmt.Errorf("failed to get experimenter by email: %w", err)
	}

	return e, nil
}

func scanExperimenter(row *sql.Row) (*Experimenter, error) {
	e := &Experimenter{}
	err := row.Scan(
		&e.ID,
		&e.Email,
		&e.Name,
		&e.PasswordHash,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
