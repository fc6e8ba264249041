// Package consent issues and validates the short-lived patient authorization
// tokens that gate every portal session.
package consent

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
)

const (
	// Purpose is the only purpose a session accepts.
	Purpose = "insurance_verification"

	DefaultTTL = 24 * time.Hour

	issuer = "clearverify"
)

// DefaultScope is granted to every issued token.
var DefaultScope = []string{"eligibility", "benefits"}

// Token is a decoded consent grant.
type Token struct {
	ID        string
	PatientID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Purpose   string
	Scope     []string
}

type claims struct {
	jwt.RegisteredClaims
	Purpose string   `json:"purpose"`
	Scope   []string `json:"scope"`
}

// Issuer signs and validates consent tokens with an HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an Issuer. An empty secret yields a random per-process
// key, so tokens do not survive a restart.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, eris.Wrap(err, "consent: generate key")
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue grants a fresh token for the patient. patientID must not be empty.
func (i *Issuer) Issue(patientID string) (string, *Token, error) {
	if strings.TrimSpace(patientID) == "" {
		return "", nil, failure.New(failure.KindAuthorization, "consent: patient id required")
	}
	now := i.now().UTC().Truncate(time.Second)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    issuer,
			Subject:   patientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Purpose: Purpose,
		Scope:   append([]string(nil), DefaultScope...),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
	if err != nil {
		return "", nil, eris.Wrap(err, "consent: sign token")
	}
	return signed, toToken(c), nil
}

// Validate checks signature, expiry, purpose and that the token names a
// patient. Any failure is an authorization failure.
func (i *Issuer) Validate(raw string) (*Token, error) {
	if raw == "" {
		return nil, failure.New(failure.KindAuthorization, "consent: token missing")
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, failure.Wrap(failure.KindAuthorization, eris.Wrap(err, "consent: invalid token"))
	}
	if c.Purpose != Purpose {
		return nil, failure.New(failure.KindAuthorization, "consent: purpose %q not permitted", c.Purpose)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, failure.New(failure.KindAuthorization, "consent: token has no patient")
	}
	return toToken(c), nil
}

// Valid reports whether raw is currently a usable consent token.
func (i *Issuer) Valid(raw string) bool {
	_, err := i.Validate(raw)
	return err == nil
}

func toToken(c claims) *Token {
	t := &Token{
		ID:        c.ID,
		PatientID: c.Subject,
		Purpose:   c.Purpose,
		Scope:     c.Scope,
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return t
}
