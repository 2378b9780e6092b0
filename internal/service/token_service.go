package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/model"
)

// ErrTokenInvalid is returned for any session token that fails validation.
var ErrTokenInvalid = errors.New("invalid session token")

const sessionTokenIssuer = "exstem-assess"

// SessionClaims binds a bearer to one submission of one attempt.
type SessionClaims struct {
	jwt.RegisteredClaims
	SubmissionID uuid.UUID `json:"submission_id"`
	AttemptID    uuid.UUID `json:"attempt_id"`
	Email        string    `json:"email"`
}

// TokenService issues and validates session tokens.
type TokenService struct {
	secret []byte
	grace  time.Duration
	clock  clock.Clock
}

// NewTokenService creates a new TokenService.
func NewTokenService(secret string, grace time.Duration, clk clock.Clock) *TokenService {
	return &TokenService{secret: []byte(secret), grace: grace, clock: clk}
}

// Issue signs a token that stays valid until the attempt ends plus the grace period.
func (s *TokenService) Issue(sub *model.Submission, attempt *model.Attempt) (string, error) {
	now := s.clock.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    sessionTokenIssuer,
			Subject:   sub.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(attempt.EndTime.Add(s.grace)),
		},
		SubmissionID: sub.ID,
		AttemptID:    attempt.ID,
		Email:        sub.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a session token, returning its claims.
func (s *TokenService) Validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionTokenIssuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SubmissionID == uuid.Nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
