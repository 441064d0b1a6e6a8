// Package auth resolves the calling actor from request credentials.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"habitquest/core"
)

// SessionCookie carries the access token for browser sessions.
const SessionCookie = "sb-access-token"

// Authenticator returns the actor for a request or core.ErrUnauthorized.
type Authenticator interface {
	Authenticate(r *http.Request) (core.ActorID, error)
}

// JWTConfig configures HS256 access-token verification.
type JWTConfig struct {
	Secret   []byte
	Audience string
	Now      func() time.Time
}

// JWT verifies HS256 access tokens and uses the subject claim as the actor.
type JWT struct {
	cfg JWTConfig
}

func NewJWT(cfg JWTConfig) (*JWT, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWT{cfg: cfg}, nil
}

func (j *JWT) Authenticate(r *http.Request) (core.ActorID, error) {
	token := credential(r)
	if token == "" {
		return "", core.ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.cfg.Now),
	}
	if j.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.cfg.Audience))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.cfg.Secret, nil
	}, opts...); err != nil {
		return "", core.Wrap(core.KindUnauthorized, "invalid or expired token", err)
	}
	actor, err := core.NormalizeActorID(core.ActorID(claims.Subject))
	if err != nil {
		return "", core.Wrap(core.KindUnauthorized, "token has no subject", err)
	}
	return actor, nil
}

// Sign issues a token for actor valid for ttl. Used by tooling and tests.
func (j *JWT) Sign(actor core.ActorID, ttl time.Duration) (string, error) {
	now := j.cfg.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(actor),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if j.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.cfg.Audience}
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// StaticTokens maps fixed bearer tokens to actors.
type StaticTokens map[string]core.ActorID

func (s StaticTokens) Authenticate(r *http.Request) (core.ActorID, error) {
	if actor, ok := s[credential(r)]; ok {
		return actor, nil
	}
	return "", core.ErrUnauthorized
}

// Chain tries each authenticator in order and returns the first success.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (core.ActorID, error) {
	err := error(core.ErrUnauthorized)
	for _, a := range c {
		actor, aerr := a.Authenticate(r)
		if aerr == nil {
			return actor, nil
		}
		err = aerr
	}
	return "", err
}

func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if v, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
