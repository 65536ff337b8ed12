package auth

import (
	"testing"
	"time"

	"notification-service/internal/common/config"
	apperrors "notification-service/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestAuthorizer() *Authorizer {
	return NewAuthorizer(config.AuthConfig{JWTSecret: testSecret, ServiceToken: "svc-token"})
}

func signClaims(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthorizeRequest(t *testing.T) {
	a := newTestAuthorizer()
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name        string
		token       string
		wantSubject string
		wantRole    string
		wantErr     bool
	}{
		{
			name:        "sub and role",
			token:       signClaims(t, testSecret, jwt.MapClaims{"sub": "u-1", "role": "admin", "exp": future}),
			wantSubject: "u-1",
			wantRole:    RoleAdmin,
		},
		{
			name:        "userId fallback and default role",
			token:       signClaims(t, testSecret, jwt.MapClaims{"userId": "u-2", "exp": future}),
			wantSubject: "u-2",
			wantRole:    RoleUser,
		},
		{
			name:        "numeric userId",
			token:       signClaims(t, testSecret, jwt.MapClaims{"userId": 42, "exp": future}),
			wantSubject: "42",
			wantRole:    RoleUser,
		},
		{
			name:    "missing subject",
			token:   signClaims(t, testSecret, jwt.MapClaims{"role": "admin", "exp": future}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   signClaims(t, "other-secret", jwt.MapClaims{"sub": "u-1", "exp": future}),
			wantErr: true,
		},
		{
			name:    "expired",
			token:   signClaims(t, testSecret, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: true,
		},
		{
			name:    "empty",
			token:   "",
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.AuthorizeRequest(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, p.Subject)
			assert.Equal(t, tt.wantRole, p.Role)
		})
	}
}

func TestAuthorizeRequest_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestAuthorizer().AuthorizeRequest(token)
	assert.Error(t, err)
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken(testSecret, "u-9", RoleLibrarian, time.Minute)
	require.NoError(t, err)

	p, err := newTestAuthorizer().AuthorizeRequest(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "u-9", Role: RoleLibrarian}, p)
}

func TestVerifyServiceToken(t *testing.T) {
	a := newTestAuthorizer()
	assert.NoError(t, a.VerifyServiceToken("svc-token"))
	assert.ErrorIs(t, a.VerifyServiceToken("wrong"), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, a.VerifyServiceToken(""), apperrors.ErrUnauthorized)
}

func TestPrincipal_Roles(t *testing.T) {
	user := Principal{Subject: "u-1", Role: RoleUser}
	librarian := Principal{Subject: "l-1", Role: RoleLibrarian}
	admin := Principal{Subject: "a-1", Role: RoleAdmin}

	assert.True(t, user.CanAccess("u-1"))
	assert.False(t, user.CanAccess("u-2"))
	assert.True(t, librarian.CanAccess("u-2"))
	assert.False(t, librarian.CanCleanup())
	assert.True(t, admin.CanCleanup())
	assert.True(t, Principal{Role: RoleSuperAdmin}.CanCleanup())
}
