package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/taskhub/internal/model"
)

func testUser() *model.User {
	return &model.User{
		ID:    "0b0e3c9a-5f1d-4d5e-9d43-7b2b7c1c2a11",
		Email: "manager@example.com",
		Roles: []model.Role{model.RoleManager},
	}
}

// TestTokenIssuer_RoundTrip は発行したトークンから主体を復元できることを検証する。
func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), time.Hour)

	token, err := issuer.Issue(testUser())
	require.NoError(t, err)

	actor, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testUser().ID, actor.ID)
	assert.True(t, actor.IsManager())
}

// TestTokenIssuer_Expired は期限切れトークンを ErrExpiredToken で拒否することを検証する。
func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := issuer.Issue(testUser())
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

// TestTokenIssuer_WrongSecret は別の鍵で署名されたトークンを拒否することを検証する。
func TestTokenIssuer_WrongSecret(t *testing.T) {
	token, err := NewTokenIssuer([]byte("other"), time.Hour).Issue(testUser())
	require.NoError(t, err)

	_, err = NewTokenIssuer([]byte("secret"), time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestTokenIssuer_UnsignedToken は署名なしトークンを拒否することを検証する。
func TestTokenIssuer_UnsignedToken(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer([]byte("secret"), time.Hour).Verify(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

// TestBcryptHasher はハッシュ化と照合を検証する。
func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(4)

	hash, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd", hash)

	ok, err := h.Compare(hash, "Passw0rd")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Compare(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestValidatePassword はパスワードポリシーを検証する。
func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     bool
	}{
		{"Passw0rd", true},
		{"Abcdefg1Abcdefg1", true},
		{"Abcdefg1Abcdefg12", false},
		{"Pass0rd", false},
		{"password1", false},
		{"PASSWORD1", false},
		{"Password", false},
		{"Pass w0rd", false},
	}
	for _, tt := range tests {
		if got := ValidatePassword(tt.password); got != tt.want {
			t.Errorf("ValidatePassword(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}
