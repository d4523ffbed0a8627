package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/todmy/psychometrics/pkg/models"
)

// Block is a stored block summary
type Block struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	Label             string
	TMin              float64
	TMax              float64
	Hits              int
	Misses            int
	FalseAlarms       int
	CorrectRejections int
	Other             int
	DPrime            float64
	HitRate           float64
	FalseAlarmRate    float64
	RTPeak            sql.NullFloat64 // NULL when too few hits
	HitRTs            pq.Float64Array
	Advisories        []byte // JSON encoded []models.Advisory
	CreatedAt         time.Time
}

// NewBlock builds a row from an analysis summary
func NewBlock(sessionID uuid.UUID, s *models.BlockSummary) (*Block, error) {
	advisories, err := json.Marshal(s.Advisories)
	if err != nil {
		return nil, fmt.Errorf("encode advisories: %w", err)
	}
	if s.Advisories == nil {
		advisories = []byte("[]")
	}

	b := &Block{
		SessionID:         sessionID,
		Label:             s.Label,
		TMin:              s.Window.TMin,
		TMax:              s.Window.TMax,
		Hits:              s.Counts.Hits,
		Misses:            s.Counts.Misses,
		FalseAlarms:       s.Counts.FalseAlarms,
		CorrectRejections: s.Counts.CorrectRejections,
		Other:             s.Counts.Other,
		DPrime:            float64(s.DPrime),
		HitRate:           float64(s.HitRate),
		FalseAlarmRate:    float64(s.FalseAlarmRate),
		HitRTs:            pq.Float64Array(s.HitRTs),
		Advisories:        advisories,
	}
	if peak := float64(s.RTPeak); !math.IsNaN(peak) {
		b.RTPeak = sql.NullFloat64{Float64: peak, Valid: true}
	}
	if id, err := uuid.Parse(s.ID); err == nil {
		b.ID = id
	}
	return b, nil
}

// Summary converts the row back to its API representation
func (b *Block) Summary() (*models.BlockSummary, error) {
	s := &models.BlockSummary{
		ID:        b.ID.String(),
		SessionID: b.SessionID.String(),
		Label:     b.Label,
		Window:    models.Window{TMin: b.TMin, TMax: b.TMax},
		Counts: models.Counts{
			Hits:              b.Hits,
			Misses:            b.Misses,
			FalseAlarms:       b.FalseAlarms,
			CorrectRejections: b.CorrectRejections,
			Other:             b.Other,
		},
		DPrime:         models.Float(b.DPrime),
		HitRate:        models.Float(b.HitRate),
		FalseAlarmRate: models.Float(b.FalseAlarmRate),
		RTPeak:         models.Float(math.NaN()),
		HitRTs:         []float64(b.HitRTs),
		CreatedAt:      b.CreatedAt,
	}
	if b.RTPeak.Valid {
		s.RTPeak = models.Float(b.RTPeak.Float64)
	}
	if len(b.Advisories) > 0 {
		if err := json.Unmarshal(b.Advisories, &s.Advisories); err != nil {
			return nil, fmt.Errorf("decode advisories: %w", err)
		}
	}
	return s, nil
}

// BlockRepository defines the interface for block storage operations
type BlockRepository interface {
	Create(ctx context.Context, block *Block) error
	CreateBatch(ctx context.Context, blocks []*Block) error
	GetByID(ctx context.Context, id uuid.UUID) (*Block, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*Block, error)
	DeleteBySessionID(ctx context.Context, sessionID uuid.UUID) error
}

// PostgresBlockRepository implements BlockRepository using PostgreSQL
type PostgresBlockRepository struct {
	db *sql.DB
}

// NewPostgresBlockRepository creates a new PostgresBlockRepository
func NewPostgresBlockRepository(db *sql.DB) *PostgresBlockRepository {
	return &PostgresBlockRepository{db: db}
}

const insertBlockQuery = `
	INSERT INTO blocks (id, session_id, label, tmin, tmax, hits, misses, false_alarms,
		correct_rejections, other, dprime, hit_rate, false_alarm_rate, rt_peak, hit_rts,
		advisories, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

const selectBlockColumns = `
	SELECT id, session_id, label, tmin, tmax, hits, misses, false_alarms,
		correct_rejections, other, dprime, hit_rate, false_alarm_rate, rt_peak, hit_rts,
		advisories, created_at
	FROM blocks
`

func (b *Block) args() []any {
	return []any{
		b.ID,
		b.SessionID,
		b.Label,
		b.TMin,
		b.TMax,
		b.Hits,
		b.Misses,
		b.FalseAlarms,
		b.CorrectRejections,
		b.Other,
		b.DPrime,
		b.HitRate,
		b.FalseAlarmRate,
		b.RTPeak,
		b.HitRTs,
		b.Advisories,
		b.CreatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(row scanner) (*Block, error) {
	b := &Block{}
	err := row.Scan(
		&b.ID,
		&b.SessionID,
		&b.Label,
		&b.TMin,
		&b.TMax,
		&b.Hits,
		&b.Misses,
		&b.FalseAlarms,
		&b.CorrectRejections,
		&b.Other,
		&b.DPrime,
		&b.HitRate,
		&b.FalseAlarmRate,
		&b.RTPeak,
		&b.HitRTs,
		&b.Advisories,
		&b.CreatedAt,
	)
	return b, err
}

func (b *Block) prepare(now time.Time) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
}

// Create inserts a new block summary
func (r *PostgresBlockRepository) Create(ctx context.Context, block *Block) error {
	block.prepare(time.Now())
	_, err := r.db.ExecContext(ctx, insertBlockQuery, block.args()...)
	return err
}

// CreateBatch inserts multiple block summaries in a single transaction
func (r *PostgresBlockRepository) CreateBatch(ctx context.Context, blocks []*Block) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBlockQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, b := range blocks {
		b.prepare(now)
		if _, err := stmt.ExecContext(ctx, b.args()...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByID retrieves a block by its ID. It returns nil when none exists.
func (r *PostgresBlockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Block, error) {
	block, err := scanBlock(r.db.QueryRowContext(ctx, selectBlockColumns+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

// GetBySessionID retrieves all blocks of a session in creation order
func (r *PostgresBlockRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]*Block, error) {
	rows, err := r.db.QueryContext(ctx, selectBlockColumns+` WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return blocks, nil
}

// DeleteBySessionID removes all blocks of a session
func (r *PostgresBlockRepository) DeleteBySessionID(ctx context.Context, sessionID uuid.UUID) error {
	query := `DELETE FROM blocks WHERE session_id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}
