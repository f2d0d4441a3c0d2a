package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgdash/backend/internal/auth/jwt"
)

const testSecret = "msgctl-test-secret-at-least-32-characters"

func TestRunToken(t *testing.T) {
	t.Setenv("MSGDASH_AUTH_JWT_SECRET", testSecret)
	t.Setenv("MSGDASH_AUTH_ISSUER", "msgdash-test")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runToken(cmd, []string{"owner-42"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "# expires at "))

	claims, err := jwt.NewManager(testSecret, "msgdash-test", time.Hour).ValidateToken(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "owner-42", claims.OwnerID)
}

func TestRunToken_CustomExpiry(t *testing.T) {
	t.Setenv("MSGDASH_AUTH_JWT_SECRET", testSecret)
	tokenExpiry = time.Minute
	defer func() { tokenExpiry = 0 }()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, runToken(cmd, []string{"owner-42"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	expiresAt, err := time.Parse(time.RFC3339, strings.TrimPrefix(lines[1], "# expires at "))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)
}

func TestRunToken_DemoMode(t *testing.T) {
	t.Setenv("MSGDASH_AUTH_JWT_SECRET", "")

	err := runToken(&cobra.Command{}, []string{"owner-42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo mode")
}

func TestRunMigrate_MemoryStorage(t *testing.T) {
	t.Setenv("MSGDASH_DATABASE_TYPE", "")

	err := runMigrate(&cobra.Command{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory storage")
}

func TestRootCommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["migrate"])
	assert.True(t, names["token"])

	assert.Error(t, tokenCmd.Args(tokenCmd, nil))
	assert.NoError(t, tokenCmd.Args(tokenCmd, []string{"owner"}))
}
