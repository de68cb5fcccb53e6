package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskdeck.org/internal/rbac"
)

const (
	issuer            = "taskdeck"
	secretEnvVariable = "TASKDECK_AUTH_SECRET"

	// DefaultTokenTTL is how long an issued token stays valid.
	DefaultTokenTTL = 8 * time.Hour
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload. The role and organization scope travel in
// the token so every request carries its full authorization context; the
// parent organization is resolved once at login.
type Claims struct {
	Role                 string `json:"role"`
	OrganizationID       string `json:"org"`
	OrganizationParentID string `json:"org_parent,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 JWT carrying the actor's identity and scope.
func GenerateToken(actor rbac.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return "", errors.New("user id is required")
	}
	if !actor.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", actor.Role)
	}
	if strings.TrimSpace(actor.OrganizationID) == "" {
		return "", errors.New("organization id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Role:                 string(actor.Role),
		OrganizationID:       actor.OrganizationID,
		OrganizationParentID: actor.OrganizationParentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token and reconstructs the actor it names.
func ParseAndValidate(token string) (rbac.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return rbac.Actor{}, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return rbac.Actor{}, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return rbac.Actor{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return rbac.Actor{}, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return rbac.Actor{}, ErrInvalidToken
	}

	role, err := rbac.ParseRole(claims.Role)
	if err != nil {
		return rbac.Actor{}, ErrInvalidToken
	}
	return rbac.Actor{
		UserID:               claims.Subject,
		Role:                 role,
		OrganizationID:       claims.OrganizationID,
		OrganizationParentID: claims.OrganizationParentID,
	}, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.OrganizationID) == "" {
		return errors.New("organization missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
