package geoip

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilDatabaseResolvesNothing(t *testing.T) {
	var d *Database
	require.Empty(t, d.Country("8.8.8.8"))
	require.NoError(t, d.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"))
	require.Error(t, err)
}
