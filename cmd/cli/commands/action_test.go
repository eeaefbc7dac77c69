package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParams(t *testing.T) {
	t.Run("typed values from pairs", func(t *testing.T) {
		params, err := loadParams("", []string{"recipient=+15550100", "count=3", "urgent=true", "text=Pour delayed"})
		require.NoError(t, err)

		assert.Equal(t, "+15550100", params["recipient"])
		assert.Equal(t, float64(3), params["count"])
		assert.Equal(t, true, params["urgent"])
		assert.Equal(t, "Pour delayed", params["text"])
	})

	t.Run("pairs override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "params.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"title":"Site walk","duration_minutes":30}`), 0o600))

		params, err := loadParams(path, []string{"title=Concrete review"})
		require.NoError(t, err)
		assert.Equal(t, "Concrete review", params["title"])
		assert.Equal(t, float64(30), params["duration_minutes"])
	})

	t.Run("malformed pair", func(t *testing.T) {
		_, err := loadParams("", []string{"novalue"})
		assert.Error(t, err)

		_, err = loadParams("", []string{"=x"})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadParams(filepath.Join(t.TempDir(), "nope.json"), nil)
		assert.Error(t, err)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
