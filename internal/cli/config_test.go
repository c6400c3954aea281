package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a JSON config file and returns its path.
func writeConfig(t *testing.T, values map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(values)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "panbeh.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func validConfig(dataDir string) map[string]interface{} {
	return map[string]interface{}{
		"data_dir": dataDir,
		"panel": map[string]interface{}{
			"base_url": "https://panel.example.com",
			"username": "admin",
			"password": "hunter2",
		},
		"ai": map[string]interface{}{
			"provider": "gemini",
			"api_key":  "AIzaTestKey",
		},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, validConfig(t.TempDir()))
		out, err := execute(t, "--config", path, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("problems listed", func(t *testing.T) {
		values := validConfig(t.TempDir())
		values["ai"] = map[string]interface{}{"provider": "anthropic", "api_key": "wrong"}
		path := writeConfig(t, values)

		out, err := execute(t, "--config", path, "config", "validate")
		require.Error(t, err)
		assert.Contains(t, out, "sk-ant-")
	})
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path := writeConfig(t, validConfig(t.TempDir()))
	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, "https://panel.example.com")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "AIzaTestKey")
	assert.Contains(t, out, "********")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "panbeh.json")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
