package sqlbase

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrator_Pending(t *testing.T) {
	migrator := NewMigrator(slog.Default(), nil, map[int]string{
		3: "ALTER TABLE executions ADD COLUMN lease_until TIMESTAMPTZ",
		1: "CREATE TABLE workflows (id TEXT PRIMARY KEY)",
		2: "CREATE TABLE executions (id TEXT PRIMARY KEY)",
	})

	assert.Equal(t, []int{1, 2, 3}, migrator.pending(0))
	assert.Equal(t, []int{3}, migrator.pending(2))
	assert.Empty(t, migrator.pending(3))
}
