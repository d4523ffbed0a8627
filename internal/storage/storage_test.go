package storage

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/todmy/psychometrics/pkg/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresSessionRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepository(db)

	session := &Session{
		ExperimenterID: uuid.New(),
		Participant:    "P01",
		Label:          "baseline",
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), session.ExperimenterID, "P01", "baseline", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), session); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if session.ID == uuid.Nil {
		t.Error("expected session ID to be generated")
	}
	if session.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSessionRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepository(db)

	id := uuid.New()
	experimenterID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "experimenter_id", "participant", "label", "created_at", "updated_at"}).
		AddRow(id.String(), experimenterID.String(), "P02", "day 1", now, now)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs(id).
		WillReturnRows(rows)

	session, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if session == nil {
		t.Fatal("expected session to be returned")
	}
	if session.ExperimenterID != experimenterID {
		t.Errorf("expected experimenter %s, got %s", experimenterID, session.ExperimenterID)
	}
	if m := session.Model(); m.Participant != "P02" || m.ID != id.String() {
		t.Errorf("unexpected model %+v", m)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresSessionRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WillReturnError(sql.ErrNoRows)

	session, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if session != nil {
		t.Error("expected nil session for not found")
	}
}

func TestPostgresSessionRepository_GetByExperimenterID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepository(db)

	experimenterID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "experimenter_id", "participant", "label", "created_at", "updated_at"}).
		AddRow(uuid.NewString(), experimenterID.String(), "P01", "a", now, now).
		AddRow(uuid.NewString(), experimenterID.String(), "P02", "b", now, now)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE experimenter_id").
		WithArgs(experimenterID).
		WillReturnRows(rows)

	sessions, err := repo.GetByExperimenterID(context.Background(), experimenterID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[1].Participant != "P02" {
		t.Errorf("expected P02, got %s", sessions[1].Participant)
	}
}

func TestPostgresSessionRepository_UpdateDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSessionRepository(db)

	session := &Session{ID: uuid.New(), Participant: "P03", Label: "renamed"}

	mock.ExpectExec("UPDATE sessions").
		WithArgs(session.ID, "P03", "renamed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM sessions WHERE id").
		WithArgs(session.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), session); err != nil {
		t.Errorf("update: %v", err)
	}
	if err := repo.Delete(context.Background(), session.ID); err != nil {
		t.Errorf("delete: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func sampleSummary() *models.BlockSummary {
	return &models.BlockSummary{
		Label:          "b1",
		Window:         models.Window{TMin: 0.1, TMax: 0.8},
		Counts:         models.Counts{Hits: 4, FalseAlarms: 1, CorrectRejections: 3, Other: 1},
		DPrime:         1.8,
		HitRate:        0.875,
		FalseAlarmRate: 0.25,
		RTPeak:         models.Float(math.NaN()),
		HitRTs:         []float64{0.35, 0.42, 0.31, 0.5},
		Advisories: []models.Advisory{
			{Code: models.AdvisoryFewResponses, Message: "few", Count: 1},
		},
	}
}

func TestNewBlockSummaryRoundTrip(t *testing.T) {
	sessionID := uuid.New()
	block, err := NewBlock(sessionID, sampleSummary())
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if block.RTPeak.Valid {
		t.Error("expected NaN peak to be stored as NULL")
	}

	back, err := block.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !math.IsNaN(float64(back.RTPeak)) {
		t.Errorf("expected NaN peak, got %v", back.RTPeak)
	}
	if back.SessionID != sessionID.String() {
		t.Errorf("expected session %s, got %s", sessionID, back.SessionID)
	}
	if len(back.Advisories) != 1 || back.Advisories[0].Code != models.AdvisoryFewResponses {
		t.Errorf("unexpected advisories %+v", back.Advisories)
	}
	if back.Counts != sampleSummary().Counts {
		t.Errorf("unexpected counts %+v", back.Counts)
	}
}

func TestPostgresBlockRepository_CreateBatch(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresBlockRepository(db)

	sessionID := uuid.New()
	first, _ := NewBlock(sessionID, sampleSummary())
	second, _ := NewBlock(sessionID, sampleSummary())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO blocks")
	for range 2 {
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	if err := repo.CreateBatch(context.Background(), []*Block{first, second}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID == uuid.Nil || second.ID == uuid.Nil || first.ID == second.ID {
		t.Error("expected distinct generated IDs")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresBlockRepository_CreateBatchRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresBlockRepository(db)

	block, _ := NewBlock(uuid.New(), sampleSummary())

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO blocks").
		ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	if err := repo.CreateBatch(context.Background(), []*Block{block}); err == nil {
		t.Error("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresBlockRepository_GetBySessionID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresBlockRepository(db)

	sessionID := uuid.New()
	now := time.Now()
	columns := []string{"id", "session_id", "label", "tmin", "tmax", "hits", "misses", "false_alarms",
		"correct_rejections", "other", "dprime", "hit_rate", "false_alarm_rate", "rt_peak", "hit_rts",
		"advisories", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow(uuid.NewString(), sessionID.String(), "b1", 0.1, 0.8, 4, 0, 1, 3, 1, 1.8, 0.875, 0.25,
			0.31, "{0.35,0.42,0.31,0.5}", "[]", now).
		AddRow(uuid.NewString(), sessionID.String(), "b2", 0.1, 0.8, 1, 3, 0, 4, 0, 0.2, 0.3, 0.125,
			nil, "{0.4}", `[{"code":"few_responses","message":"1 hits"}]`, now)

	mock.ExpectQuery("SELECT (.+) FROM blocks WHERE session_id").
		WithArgs(sessionID).
		WillReturnRows(rows)

	blocks, err := repo.GetBySessionID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if !blocks[0].RTPeak.Valid || blocks[1].RTPeak.Valid {
		t.Error("expected the second block to have a NULL peak")
	}
	if len(blocks[0].HitRTs) != 4 {
		t.Errorf("expected 4 hit RTs, got %d", len(blocks[0].HitRTs))
	}

	summary, err := blocks[1].Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary.Advisories) != 1 {
		t.Errorf("expected 1 advisory, got %d", len(summary.Advisories))
	}
}

func TestPostgresBlockRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresBlockRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM blocks WHERE id").
		WillReturnError(sql.ErrNoRows)

	block, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil || block != nil {
		t.Errorf("expected nil, nil; got %v, %v", block, err)
	}
}

func TestPostgresCurveRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCurveRepository(db)

	curve := NewCurve(uuid.New(), &models.CurveFit{
		Label:     "contrast",
		Params:    models.SigmoidParams{Lower: 0.5, Upper: 1, Midpoint: 2, Slope: 1.5},
		Fixed:     []string{"lower"},
		SSE:       0.01,
		NumPoints: 11,
	})

	mock.ExpectExec("INSERT INTO curves").
		WithArgs(sqlmock.AnyArg(), curve.SessionID, "contrast", 0.5, 1.0, 2.0, 1.5,
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0.01, 11, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), curve); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if curve.ID == uuid.Nil {
		t.Error("expected curve ID to be generated")
	}
	if got := curve.Params.Slice(); len(got) != 4 || got[3] != 1.5 {
		t.Errorf("unexpected params vector %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresCurveRepository_FindSimilar(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCurveRepository(db)

	query := &Curve{ID: uuid.New(), Params: ParamsVector(models.SigmoidParams{Lower: 0.5, Upper: 1, Midpoint: 2, Slope: 1})}
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "session_id", "label", "lower", "upper", "midpoint", "slope",
		"params", "fixed", "sse", "num_points", "created_at", "distance"}).
		AddRow(uuid.NewString(), uuid.NewString(), "near", 0.5, 1.0, 2.1, 1.0, "[0.5,1,2.1,1]", "{}", 0.02, 9, now, 0.1).
		AddRow(uuid.NewString(), uuid.NewString(), "far", 0.0, 1.0, 5.0, 3.0, "[0,1,5,3]", "{lower,upper}", 0.05, 9, now, 3.64)

	owner := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM curves c JOIN sessions s ON s.id = c.session_id WHERE s.experimenter_id = \$3 AND c.id <> \$2`).
		WithArgs(sqlmock.AnyArg(), query.ID, owner, 5).
		WillReturnRows(rows)

	results, err := repo.FindSimilar(context.Background(), query, owner, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Curve.Label != "near" || results[0].Distance != 0.1 {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if fixed := results[1].Curve.Model().Fixed; len(fixed) != 2 || fixed[1] != "upper" {
		t.Errorf("unexpected fixed params %v", fixed)
	}
	if v := results[1].Curve.Params.Slice(); len(v) != 4 || v[2] != 5 {
		t.Errorf("unexpected params vector %v", v)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresCurveRepository_DefaultLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCurveRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM curves").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	results, err := repo.FindSimilar(context.Background(), &Curve{}, uuid.New(), 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
