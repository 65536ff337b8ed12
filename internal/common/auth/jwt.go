package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"notification-service/internal/common/config"
	apperrors "notification-service/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser       = "user"
	RoleLibrarian  = "librarian"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// IsPrivileged reports whether the caller may act on other recipients' notifications.
func (p Principal) IsPrivileged() bool {
	switch p.Role {
	case RoleAdmin, RoleSuperAdmin, RoleLibrarian:
		return true
	}
	return false
}

// CanCleanup reports whether the caller may purge old notifications.
func (p Principal) CanCleanup() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// CanAccess reports whether the caller may read or delete a recipient's notifications.
func (p Principal) CanAccess(recipientID string) bool {
	return p.Subject == recipientID || p.IsPrivileged()
}

// Authorizer verifies bearer tokens issued by the user and admin services, and the shared
// service token used for service-to-service calls.
type Authorizer struct {
	secret       []byte
	serviceToken string
}

func NewAuthorizer(cfg config.AuthConfig) *Authorizer {
	return &Authorizer{
		secret:       []byte(cfg.JWTSecret),
		serviceToken: cfg.ServiceToken,
	}
}

// AuthorizeRequest validates an HS256 token. The subject is taken from "sub", falling back to
// "userId"; the role defaults to "user".
func (a *Authorizer) AuthorizeRequest(token string) (Principal, error) {
	if token == "" {
		return Principal{}, apperrors.NewUnauthorizedError("missing bearer token")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apperrors.NewUnauthorizedError("token has expired")
		}
		return Principal{}, apperrors.NewUnauthorizedError("invalid token")
	}
	if !parsed.Valid {
		return Principal{}, apperrors.NewUnauthorizedError("invalid token")
	}

	subject := claimString(claims, "sub")
	if subject == "" {
		subject = claimString(claims, "userId")
	}
	if subject == "" {
		return Principal{}, apperrors.NewUnauthorizedError("invalid token: missing user ID")
	}

	role := claimString(claims, "role")
	if role == "" {
		role = RoleUser
	}

	return Principal{Subject: subject, Role: role}, nil
}

// VerifyServiceToken checks the X-Service-Token value.
func (a *Authorizer) VerifyServiceToken(token string) error {
	if token == "" {
		return apperrors.NewUnauthorizedError("service token required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.serviceToken)) != 1 {
		return apperrors.NewUnauthorizedError("invalid service token")
	}
	return nil
}

// claimString reads a claim as a string. Numeric ids are formatted without a fraction.
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// GenerateToken signs an HS256 token carrying the subject and role.
func GenerateToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
