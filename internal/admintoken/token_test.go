package admintoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	dErrors "agora/pkg/domain-errors"
)

func serviceWithCredential(t *testing.T, credential string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService("test-signing-key", "agora-test", string(hash))
}

func TestLoginAndValidate(t *testing.T) {
	svc := serviceWithCredential(t, "s3cret")

	token, err := svc.Login("s3cret", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "agora-test", claims.Issuer)
}

func TestLoginRejectsWrongCredential(t *testing.T) {
	svc := serviceWithCredential(t, "s3cret")

	_, err := svc.Login("wrong", time.Minute)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestLoginWithoutConfiguredHashForbidden(t *testing.T) {
	svc := NewService("key", "agora-test", "")

	_, err := svc.Login("anything", time.Minute)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := serviceWithCredential(t, "s3cret")

	token, err := svc.Login("s3cret", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateRejectsForeignToken(t *testing.T) {
	svc := serviceWithCredential(t, "s3cret")
	other := NewService("other-signing-key", "agora-test", svc.adminTokenHash)

	token, err := other.generate("admin", time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
