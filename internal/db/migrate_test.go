package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverMigrations_SortedAndVersioned(t *testing.T) {
	files, err := discoverMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_inventory.sql", files[0])
	assert.IsIncreasing(t, files)
}

func TestExtractVersion(t *testing.T) {
	v, err := extractVersion("001_inventory.sql")
	require.NoError(t, err)
	assert.Equal(t, "001", v)

	_, err = extractVersion("inventory.sql")
	assert.Error(t, err)
}
