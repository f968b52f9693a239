// Package auth resolves the identity of API callers from bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

// Anonymous is the owner recorded for writes when authentication is disabled.
const Anonymous = "anonymous"

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
	ErrInvalidToken         = errors.New("invalid token")
)

const bearerPrefix = "Bearer "

// Options configures an Authenticator. With neither Secret nor JWKS set,
// authentication is disabled.
type Options struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// JWKS verifies RS256 tokens.
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
}

// Authenticator validates JWTs and extracts the subject.
type Authenticator struct {
	opts   Options
	parser *jwt.Parser
}

// New creates an authenticator. A shared secret takes precedence over JWKS.
func New(opts Options) *Authenticator {
	a := &Authenticator{opts: opts}
	if len(opts.Secret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// LoadJWKS fetches a key set and keeps it refreshed in the background.
func LoadJWKS(url string, logger *log.Logger) (*keyfunc.JWKS, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).WithField("url", url).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return jwks, nil
}

// Enabled reports whether tokens are verified at all.
func (a *Authenticator) Enabled() bool {
	return a != nil && (len(a.opts.Secret) > 0 || a.opts.JWKS != nil)
}

// UserIDFromHeader extracts the user identifier from an Authorization header.
func (a *Authenticator) UserIDFromHeader(h string) (string, error) {
	if !a.Enabled() {
		return Anonymous, nil
	}
	token, err := BearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken validates a raw JWT and returns its subject.
func (a *Authenticator) UserIDFromToken(raw string) (string, error) {
	if !a.Enabled() {
		return Anonymous, nil
	}
	if raw == "" {
		return "", ErrMissingAuthorization
	}

	token, err := a.parser.Parse(raw, a.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if a.opts.Audience != "" && !claims.VerifyAudience(a.opts.Audience, true) {
		return "", fmt.Errorf("%w: invalid audience", ErrInvalidToken)
	}
	if a.opts.Issuer != "" && !claims.VerifyIssuer(a.opts.Issuer, true) {
		return "", fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return sub, nil
}

func (a *Authenticator) key(t *jwt.Token) (any, error) {
	if len(a.opts.Secret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.opts.Secret, nil
	}
	return a.opts.JWKS.Keyfunc(t)
}

// BearerToken returns the token of a "Bearer <jwt>" header value.
func BearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", ErrMissingAuthorization
	}
	if !strings.HasPrefix(h, bearerPrefix) || len(h) == len(bearerPrefix) {
		return "", ErrBadAuthorization
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", ErrBadAuthorization
	}
	return token, nil
}
