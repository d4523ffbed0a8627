package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/todmy/psychometrics/pkg/models"
)

// Curve is a stored psychometric curve fit. Params holds (lower, upper,
// midpoint, slope) as a vector(4) so fits can be compared by L2 distance.
type Curve struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Label     string
	Lower     float64
	Upper     float64
	Midpoint  float64
	Slope     float64
	Params    pgvector.Vector
	Fixed     pq.StringArray
	SSE       float64
	NumPoints int
	CreatedAt time.Time
}

// NewCurve builds a row from a fit
func NewCurve(sessionID uuid.UUID, fit *models.CurveFit) *Curve {
	p := fit.Params
	c := &Curve{
		SessionID: sessionID,
		Label:     fit.Label,
		Lower:     p.Lower,
		Upper:     p.Upper,
		Midpoint:  p.Midpoint,
		Slope:     p.Slope,
		Params:    ParamsVector(p),
		Fixed:     pq.StringArray(fit.Fixed),
		SSE:       fit.SSE,
		NumPoints: fit.NumPoints,
	}
	if id, err := uuid.Parse(fit.ID); err == nil {
		c.ID = id
	}
	return c
}

// ParamsVector packs curve parameters for similarity search
func ParamsVector(p models.SigmoidParams) pgvector.Vector {
	return pgvector.NewVector([]float32{
		float32(p.Lower),
		float32(p.Upper),
		float32(p.Midpoint),
		float32(p.Slope),
	})
}

// Model converts the row to its API representation
func (c *Curve) Model() *models.CurveFit {
	return &models.CurveFit{
		ID:        c.ID.String(),
		SessionID: c.SessionID.String(),
		Label:     c.Label,
		Params: models.SigmoidParams{
			Lower:    c.Lower,
			Upper:    c.Upper,
			Midpoint: c.Midpoint,
			Slope:    c.Slope,
		},
		Fixed:     []string(c.Fixed),
		SSE:       c.SSE,
		NumPoints: c.NumPoints,
		CreatedAt: c.CreatedAt,
	}
}

// CurveWithDistance is a curve returned by a similarity query
type CurveWithDistance struct {
	Curve    *Curve
	Distance float64
}

// CurveRepository defines the interface for curve storage operations
type CurveRepository interface {
	Create(ctx context.Context, curve *Curve) error
	GetByID(ctx context.Context, id uuid.UUID) (*Curve, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*Curve, error)
	FindSimilar(ctx context.Context, curve *Curve, experimenterID uuid.UUID, limit int) ([]*CurveWithDistance, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PostgresCurveRepository implements CurveRepository using PostgreSQL with pgvector
type PostgresCurveRepository struct {
	db *sql.DB
}

// NewPostgresCurveRepository creates a new PostgresCurveRepository
func NewPostgresCurveRepository(db *sql.DB) *PostgresCurveRepository {
	return &PostgresCurveRepository{db: db}
}

// Create inserts a new curve fit
func (r *PostgresCurveRepository) Create(ctx context.Context, curve *Curve) error {
	if curve.ID == uuid.Nil {
		curve.ID = uuid.New()
	}
	if curve.CreatedAt.IsZero() {
		curve.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO curves (id, session_id, label, lower, upper, midpoint, slope, params, fixed, sse, num_points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		curve.ID,
		curve.SessionID,
		curve.Label,
		curve.Lower,
		curve.Upper,
		curve.Midpoint,
		curve.Slope,
		curve.Params,
		curve.Fixed,
		curve.SSE,
		curve.NumPoints,
		curve.CreatedAt,
	)

	return err
}

func (c *Curve) fields() []any {
	return []any{
		&c.ID,
		&c.SessionID,
		&c.Label,
		&c.Lower,
		&c.Upper,
		&c.Midpoint,
		&c.Slope,
		&c.Params,
		&c.Fixed,
		&c.SSE,
		&c.NumPoints,
		&c.CreatedAt,
	}
}

// GetByID retrieves a curve by its ID. It returns nil when none exists.
func (r *PostgresCurveRepository) GetByID(ctx context.Context, id uuid.UUID) (*Curve, error) {
	query := `
		SELECT id, session_id, label, lower, upper, midpoint, slope, params, fixed, sse, num_points, created_at
		FROM curves
		WHERE id = $1
	`

	curve := &Curve{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(curve.fields()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return curve, nil
}

// GetBySessionID retrieves all curves of a session
func (r *PostgresCurveRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*Curve, error) {
	query := `
		SELECT id, session_id, label, lower, upper, midpoint, slope, params, fixed, sse, num_points, created_at
		FROM curves
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var curves []*Curve
	for rows.Next() {
		curve := &Curve{}
		if err := rows.Scan(curve.fields()...); err != nil {
			return nil, err
		}
		curves = append(curves, curve)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return curves, nil
}

// FindSimilar returns the curves of the experimenter's sessions nearest to
// curve by L2 distance over their parameter vectors, excluding curve itself
func (r *PostgresCurveRepository) FindSimilar(ctx context.Context, curve *Curve, experimenterID uuid.UUID, limit int) ([]*CurveWithDistance, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT c.id, c.session_id, c.label, c.lower, c.upper, c.midpoint, c.slope, c.params, c.fixed,
			   c.sse, c.num_points, c.created_at, c.params <-> $1 as distance
		FROM curves c
		JOIN sessions s ON s.id = c.session_id
		WHERE s.experimenter_id = $3 AND c.id <> $2
		ORDER BY c.params <-> $1
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, curve.Params, curve.ID, experimenterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*CurveWithDistance
	for rows.Next() {
		c := &Curve{}
		var distance float64
		if err := rows.Scan(append(c.fields(), &distance)...); err != nil {
			return nil, err
		}
		results = append(results, &CurveWithDistance{Curve: c, Distance: distance})
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// Delete removes a curve
func (r *PostgresCurveRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM curves WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
