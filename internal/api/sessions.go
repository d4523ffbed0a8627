package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todmy/psychometrics/internal/auth"
	"github.com/todmy/psychometrics/internal/storage"
	"github.com/todmy/psychometrics/pkg/models"
)

type ctxKey int

const sessionKey ctxKey = iota

// SessionRequest is the body of session create and update
type SessionRequest struct {
	Participant string `json:"participant"`
	Label       string `json:"label"`
}

func experimenterID(r *http.Request) (uuid.UUID, bool) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.ExperimenterID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// sessionCtx loads the session named in the URL and checks that it belongs to
// the authenticated experimenter
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := experimenterID(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid session id")
			return
		}

		sess, err := s.sessions.GetByID(r.Context(), id)
		if err != nil {
			s.log.Error("Failed to fetch session", zap.String("session_id", id.String()), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to fetch session")
			return
		}
		if sess == nil || sess.ExperimenterID != owner {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *storage.Session {
	sess, _ := ctx.Value(sessionKey).(*storage.Session)
	return sess
}

// handleListSessions returns all sessions of the authenticated experimenter
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner, ok := experimenterID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := s.sessions.GetByExperimenterID(r.Context(), owner)
	if err != nil {
		s.log.Error("Failed to list sessions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch sessions")
		return
	}

	response := make([]models.Session, 0, len(sessions))
	for _, sess := range sessions {
		response = append(response, sess.Model())
	}

	respondJSON(w, http.StatusOK, response)
}

// handleCreateSession creates a new session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := experimenterID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Participant == "" {
		respondError(w, http.StatusBadRequest, "participant is required")
		return
	}

	sess := &storage.Session{
		ExperimenterID: owner,
		Participant:    req.Participant,
		Label:          req.Label,
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		s.log.Error("Failed to create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(w, http.StatusCreated, sess.Model())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sessionFromContext(r.Context()).Model())
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Participant != "" {
		sess.Participant = req.Participant
	}
	sess.Label = req.Label

	if err := s.sessions.Update(r.Context(), sess); err != nil {
		s.log.Error("Failed to update session", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update session")
		return
	}

	respondJSON(w, http.StatusOK, sess.Model())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	if err := s.sessions.Delete(r.Context(), sess.ID); err != nil {
		s.log.Error("Failed to delete session", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BlocksRequest is the body of POST /sessions/{id}/blocks
type BlocksRequest struct {
	Blocks []models.Block `json:"blocks"`
}

// handleCreateBlocks analyzes the posted blocks and stores their summaries
func (s *Server) handleCreateBlocks(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req BlocksRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Blocks) == 0 {
		respondError(w, http.StatusBadRequest, "at least one block is required")
		return
	}

	summaries, err := s.analysis.AnalyzeBlocks(r.Context(), req.Blocks)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	rows := make([]*storage.Block, 0, len(summaries))
	for _, summary := range summaries {
		row, err := storage.NewBlock(sess.ID, summary)
		if err != nil {
			s.respondAnalysisError(w, r, err)
			return
		}
		rows = append(rows, row)
	}
	if err := s.blocks.CreateBatch(r.Context(), rows); err != nil {
		s.log.Error("Failed to store blocks", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store blocks")
		return
	}

	for i, row := range rows {
		summaries[i].ID = row.ID.String()
		summaries[i].SessionID = sess.ID.String()
		summaries[i].CreatedAt = row.CreatedAt
	}

	respondJSON(w, http.StatusCreated, summaries)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	rows, err := s.blocks.GetBySessionID(r.Context(), sess.ID)
	if err != nil {
		s.log.Error("Failed to list blocks", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch blocks")
		return
	}

	response := make([]*models.BlockSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := row.Summary()
		if err != nil {
			s.log.Error("Corrupt block row", zap.String("block_id", row.ID.String()), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to fetch blocks")
			return
		}
		response = append(response, summary)
	}

	respondJSON(w, http.StatusOK, response)
}

// handleCreateCurve fits a curve and stores it under the session
func (s *Server) handleCreateCurve(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req FitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts, err := req.options()
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	res, err := s.analysis.FitCurve(r.Context(), req.X, req.Y, opts)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	fit := &models.CurveFit{
		Label:     req.Label,
		Params:    res.Params.Model(),
		SSE:       res.SSE,
		NumPoints: len(req.X),
	}
	for _, p := range opts.Fixed {
		fit.Fixed = append(fit.Fixed, p.String())
	}

	curve := storage.NewCurve(sess.ID, fit)
	if err := s.curves.Create(r.Context(), curve); err != nil {
		s.log.Error("Failed to store curve", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store curve")
		return
	}

	respondJSON(w, http.StatusCreated, curve.Model())
}

func (s *Server) handleListCurves(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	curves, err := s.curves.GetBySessionID(r.Context(), sess.ID)
	if err != nil {
		s.log.Error("Failed to list curves", zap.String("session_id", sess.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch curves")
		return
	}

	response := make([]*models.CurveFit, 0, len(curves))
	for _, c := range curves {
		response = append(response, c.Model())
	}

	respondJSON(w, http.StatusOK, response)
}

// handleSimilarCurves returns stored fits nearest in parameter space
func (s *Server) handleSimilarCurves(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "curveID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid curve id")
		return
	}

	curve, err := s.curves.GetByID(r.Context(), id)
	if err != nil {
		s.log.Error("Failed to fetch curve", zap.String("curve_id", id.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to fetch curve")
		return
	}
	if curve == nil || curve.SessionID != sess.ID {
		respondError(w, http.StatusNotFound, "curve not found")
		return
	}

	limit := queryInt(r, "limit", 10)
	similar, err := s.curves.FindSimilar(r.Context(), curve, sess.ExperimenterID, limit)
	if err != nil {
		s.log.Error("Similarity query failed", zap.String("curve_id", id.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to find similar curves")
		return
	}

	response := make([]*models.CurveFit, 0, len(similar))
	for _, sim := range similar {
		m := sim.Curve.Model()
		m.Distance = sim.Distance
		response = append(response, m)
	}

	respondJSON(w, http.StatusOK, response)
}
