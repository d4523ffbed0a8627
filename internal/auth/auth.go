package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/todmy/psychometrics/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrExperimenterExists   = errors.New("experimenter already exists")
	ErrInvalidToken         = errors.New("invalid token")
	ErrExperimenterNotFound = errors.New("experimenter not found")
	ErrPasswordTooShort     = errors.New("password too short")
	ErrMissingFields        = errors.New("email and password are required")
)

// MinPasswordLength is the shortest password Register accepts
const MinPasswordLength = 8

// Experimenter is a lab member allowed to store sessions
type Experimenter struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Model converts to the API representation
func (e *Experimenter) Model() models.Experimenter {
	return models.Experimenter{
		ID:        e.ID,
		Email:     e.Email,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Claims represents the JWT claims
type Claims struct {
	ExperimenterID string `json:"experimenter_id"`
	Email          string `json:"email"`
	jwt.RegisteredClaims
}

// ExperimenterRepository defines the interface for experimenter persistence
type ExperimenterRepository interface {
	Create(ctx context.Context, e *Experimenter) error
	GetByID(ctx context.Context, id string) (*Experimenter, error)
	GetByEmail(ctx context.Context, email string) (*Experimenter, error)
}

// Service defines the authentication service interface
type Service interface {
	Register(ctx context.Context, email, name, password string) (*Experimenter, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Config holds authentication configuration
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		SecretKey:     "change-me-in-production",
		TokenDuration: 24 * time.Hour,
	}
}

// JWTService implements the Service interface
type JWTService struct {
	config Config
	repo   ExperimenterRepository
}

// NewJWTService creates a new JWT-based authentication service
func NewJWTService(config Config, repo ExperimenterRepository) *JWTService {
	if config.SecretKey == "" {
		config.SecretKey = DefaultConfig().SecretKey
	}
	if config.TokenDuration <= 0 {
		config.TokenDuration = DefaultConfig().TokenDuration
	}
	return &JWTService{
		config: config,
		repo:   repo,
	}
}

// Register creates a new experimenter with a hashed password
func (s *JWTService) Register(ctx context.Context, email, name, password string) (*Experimenter, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrExperimenterNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrExperimenterExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	e := &Experimenter{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashedPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

// Login authenticates an experimenter and returns a JWT token
func (s *JWTService) Login(ctx context.Context, email, password string) (string, error) {
	e, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || e == nil {
		return "", ErrInvalidCredentials
	}

	if !CheckPassword(password, e.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	return s.generateToken(e)
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.SecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, ErrInvalidToken
	}

	if !token.Valid || claims.ExperimenterID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *JWTService) generateToken(e *Experimenter) (string, error) {
	now := time.Now()
	claims := &Claims{
		ExperimenterID: e.ID,
		Email:          e.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   e.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.SecretKey))
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
