package simulator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate_RejectsBadGeometry(t *testing.T) {
	config := DefaultConfig()
	config.PlaneSize = 0
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.BlockSize = 6 // not a power of two
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.MaxLogBlocks = config.TotalBlocks()
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.NumAgeClasses = 0
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.PageWriteTime = -1
	require.Error(t, config.Validate())
}

func TestConfig_DerivedQuantities(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 8, config.TotalBlocks())
	require.Equal(t, 32, config.TotalPages())
	require.Equal(t, 2, config.AddressShift())

	config.BlockSize = 64
	require.Equal(t, 6, config.AddressShift())
}

func TestConfig_LoadRoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.PlaneSize = 16
	config.GreedyGC = false

	data, err := json.Marshal(config)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, config, loaded)
}

func TestConfig_LoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}
