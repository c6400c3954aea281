package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := execute(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Stop the Panbeh gateway service")
		assert.Contains(t, out, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		path := writeConfig(t, map[string]interface{}{"data_dir": t.TempDir()})
		out, err := execute(t, "--config", path, "stop")
		require.NoError(t, err)
		assert.Contains(t, out, "Daemon is not running")
	})
}
