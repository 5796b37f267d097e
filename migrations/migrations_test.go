package migrations

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fileName = regexp.MustCompile(`^(\d{6})_[a-z_]+\.(up|down)\.sql$`)

func TestMigrationFilesPair(t *testing.T) {
	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		match := fileName.FindStringSubmatch(name)
		require.NotNil(t, match, "unexpected migration file %s", name)
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".up.sql"), ".down.sql")
		if match[2] == "up" {
			ups[base] = true
		} else {
			downs[base] = true
		}
		body, err := fs.ReadFile(FS(), name)
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(string(body)), name)
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestSchemaCoversRepositories(t *testing.T) {
	var schema strings.Builder
	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			body, err := fs.ReadFile(FS(), entry.Name())
			require.NoError(t, err)
			schema.Write(body)
		}
	}
	for _, table := range []string{
		"schools", "users", "sessions", "audit_logs", "idempotency_keys",
		"roles", "role_permissions", "user_roles",
		"coefficient_overrides", "teacher_check_ins", "attendance_daily_summaries",
	} {
		assert.Contains(t, schema.String(), "CREATE TABLE "+table+" (", table)
	}
}

func TestIgnoreNoChange(t *testing.T) {
	assert.NoError(t, IgnoreNoChange(nil))
	assert.NoError(t, IgnoreNoChange(migrate.ErrNoChange))
	assert.ErrorIs(t, IgnoreNoChange(migrate.ErrNilVersion), migrate.ErrNilVersion)
}
