package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_BuildsFileOnlyLoggerAtEachLevel(t *testing.T) {
	tmpDir := t.TempDir()

	levels := []string{"debug", "info", "warn", "error"}
	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			cfg := Config{
				Level:         level,
				FilePath:      tmpDir + "/" + level + ".log",
				MaxSizeMB:     1,
				MaxFiles:      3,
				WriteToStderr: false,
			}

			logger, cleanup, err := Setup(cfg)
			require.NoError(t, err)
			defer cleanup()

			assert.NotNil(t, logger)
		})
	}
}
