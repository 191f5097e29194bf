package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/patrik-fredon/rococua-muhah/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "issue-token-test-secret"

func TestIssue_RoundTrips(t *testing.T) {
	id := uuid.New()

	token, err := issue(testSecret, id.String(), "ops@example.com", "staff, admin ,", time.Hour)
	require.NoError(t, err)

	claims, err := auth.NewTokenManager(testSecret, time.Hour, clockwork.NewRealClock()).Verify(token)
	require.NoError(t, err)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, []string{"staff", "admin"}, claims.Roles)
}

func TestIssue_Errors(t *testing.T) {
	_, err := issue("", uuid.NewString(), "", "user", time.Hour)
	assert.ErrorContains(t, err, "signing secret")

	_, err = issue(testSecret, "not-a-uuid", "", "user", time.Hour)
	assert.ErrorContains(t, err, "invalid -user")
}
