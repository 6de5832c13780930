package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	users := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(users, []byte(`users:
  - id: dana
    name: Dana Whitfield
    role: director
    organization_id: acme
  - id: alice
    name: Alice Chen
    role: contractor
    organization_id: acme
`), 0o644))

	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`database:
  path: `+filepath.Join(dir, "payapp.db")+`
identity:
  users_file: `+users+`
logger:
  level: error
`), 0o644))
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestUsersCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "users", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "director")
}

func TestMigrateCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	// applying twice is a no-op
	_, err = execute(t, "migrate", "--config", cfg)
	require.NoError(t, err)
}

func TestProjectsCommand(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "projects", "--config", cfg)
	assert.ErrorContains(t, err, "--as")

	out, err := execute(t, "projects", "--config", cfg, "--as", "dana")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTRACTOR")
}

func TestCertificateCommand_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "certificate", "abc", "--config", cfg, "--as", "dana")
	assert.ErrorContains(t, err, "invalid id")

	_, err = execute(t, "certificate", "1", "--config", cfg, "--as", "dana", "--format", "pdf")
	assert.ErrorContains(t, err, "unsupported format")

	_, err = execute(t, "certificate", "1", "--config", cfg, "--as", "dana")
	assert.ErrorContains(t, err, "NOT_FOUND")
}
