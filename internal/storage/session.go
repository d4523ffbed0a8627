package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/todmy/psychometrics/pkg/models"
)

// Session represents one participant's experiment session
type Session struct {
	ID             uuid.UUID
	ExperimenterID uuid.UUID
	Participant    string
	Label          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Model converts the row to its API representation
func (s *Session) Model() models.Session {
	return models.Session{
		ID:             s.ID.String(),
		ExperimenterID: s.ExperimenterID.String(),
		Participant:    s.Participant,
		Label:          s.Label,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// SessionRepository defines the interface for session storage operations
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByExperimenterID(ctx context.Context, experimenterID uuid.UUID) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PostgresSessionRepository implements SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	db *sql.DB
}

// NewPostgresSessionRepository creates a new PostgresSessionRepository
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

// Create inserts a new session into the database
func (r *PostgresSessionRepository) Create(ctx context.Context, session *Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	query := `
		INSERT INTO sessions (id, experimenter_id, participant, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.ExperimenterID,
		session.Participant,
		session.Label,
		session.CreatedAt,
		session.UpdatedAt,
	)

	return err
}

// GetByID retrieves a session by its ID. It returns nil when none exists.
func (r *PostgresSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `
		SELECT id, experimenter_id, participant, label, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`

	session := &Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.ExperimenterID,
		&session.Participant,
		&session.Label,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetByExperimenterID retrieves all sessions run by an experimenter
func (r *PostgresSessionRepository) GetByExperimenterID(ctx context.Context, experimenterID uuid.UUID) ([]*Session, error) {
	query := `
		SELECT id, experimenter_id, participant, label, created_at, updated_at
		FROM sessions
		WHERE experimenter_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, experimenterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		err := rows.Scan(
			&session.ID,
			&session.ExperimenterID,
			&session.Participant,
			&session.Label,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Update modifies the participant and label of an existing session
func (r *PostgresSessionRepository) Update(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now()

	query := `
		UPDATE sessions
		SET participant = $2, label = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Participant,
		session.Label,
		session.UpdatedAt,
	)

	return err
}

// Delete removes a session. Blocks and curves cascade.
func (r *PostgresSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
