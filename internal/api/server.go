package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/todmy/psychometrics/internal/auth"
	"github.com/todmy/psychometrics/internal/classify"
	"github.com/todmy/psychometrics/internal/logit"
	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/internal/psychometric"
	"github.com/todmy/psychometrics/internal/reaction"
	"github.com/todmy/psychometrics/internal/sdt"
	"github.com/todmy/psychometrics/internal/session"
	"github.com/todmy/psychometrics/internal/storage"
)

// ServerConfig holds the dependencies of the HTTP server
type ServerConfig struct {
	Analysis    *session.Service
	Auth        auth.Service
	Sessions    storage.SessionRepository
	Blocks      storage.BlockRepository
	Curves      storage.CurveRepository
	CORSOrigins []string
	Logger      *zap.Logger
}

type Server struct {
	router   *chi.Mux
	log      *zap.Logger
	analysis *session.Service
	auth     auth.Service
	sessions storage.SessionRepository
	blocks   storage.BlockRepository
	curves   storage.CurveRepository
}

func NewServer(config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Analysis == nil {
		config.Analysis = session.NewService(session.DefaultConfig(), config.Logger)
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"http://localhost:*", "https://*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(config.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:   r,
		log:      config.Logger,
		analysis: config.Analysis,
		auth:     config.Auth,
		sessions: config.Sessions,
		blocks:   config.Blocks,
		curves:   config.Curves,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Stateless analysis
		r.Route("/analyze", func(r chi.Router) {
			r.Post("/classify", s.handleClassify)
			r.Post("/dprime", s.handleDPrime)
			r.Post("/logit", s.handleLogit)
			r.Post("/sigmoid", s.handleSigmoid)
			r.Post("/fit", s.handleFit)
			r.Post("/rt-chisq", s.handleRTChiSquare)
		})

		if s.auth == nil {
			return
		}

		h := auth.NewHandlers(s.auth)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.auth))

			r.Get("/auth/me", h.Me)

			if s.sessions == nil {
				return
			}
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleCreateSession)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Use(s.sessionCtx)
					r.Get("/", s.handleGetSession)
					r.Put("/", s.handleUpdateSession)
					r.Delete("/", s.handleDeleteSession)

					r.Get("/blocks", s.handleListBlocks)
					r.Post("/blocks", s.handleCreateBlocks)

					r.Get("/curves", s.handleListCurves)
					r.Post("/curves", s.handleCreateCurve)
					r.Get("/curves/{curveID}/similar", s.handleSimilarCurves)
				})
			})
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("HTTP server listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Helper to send JSON responses
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAnalysisError maps validation errors of the analysis packages to 400
// and everything else to 500
func (s *Server) respondAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	if isValidationError(err) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error("Analysis failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "analysis failed")
}

var validationErrors = []error{
	ndarray.ErrShape,
	ndarray.ErrNotNumeric,
	classify.ErrInvalidWindow,
	classify.ErrInvalidTimestamp,
	logit.ErrOutOfRange,
	logit.ErrInvalidEvents,
	sdt.ErrNegativeCount,
	sdt.ErrUnknownCorrection,
	psychometric.ErrUnknownParam,
	psychometric.ErrTooFewPoints,
	psychometric.ErrFitFailed,
	reaction.ErrNegativeSample,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
