package platforms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/mocks"
	"github.com/davidmoltin/site-integrations/internal/models"
)

func TestRegistry(t *testing.T) {
	wa := mocks.NewPlatformAdapter(models.PlatformWhatsApp)
	gw := mocks.NewPlatformAdapter(models.PlatformGoogleWorkspace)

	r := NewRegistry(wa, gw)

	t.Run("preserves registration order", func(t *testing.T) {
		assert.Equal(t, []models.Platform{models.PlatformWhatsApp, models.PlatformGoogleWorkspace}, r.Platforms())
		assert.Len(t, r.All(), 2)
	})

	t.Run("get registered adapter", func(t *testing.T) {
		a, err := r.Get(models.PlatformGoogleWorkspace)
		require.NoError(t, err)
		assert.Same(t, gw, a)
		assert.True(t, r.Has(models.PlatformWhatsApp))
	})

	t.Run("unknown platform", func(t *testing.T) {
		_, err := r.Get("slack")
		assert.True(t, errors.Is(err, ErrUnknownPlatform))
	})

	t.Run("re-register replaces without reordering", func(t *testing.T) {
		replacement := mocks.NewPlatformAdapter(models.PlatformWhatsApp)
		r.Register(replacement)

		a, err := r.Get(models.PlatformWhatsApp)
		require.NoError(t, err)
		assert.Same(t, replacement, a)
		assert.Equal(t, []models.Platform{models.PlatformWhatsApp, models.PlatformGoogleWorkspace}, r.Platforms())
	})
}

func TestAPIError(t *testing.T) {
	auth := &APIError{Platform: models.PlatformWhatsApp, StatusCode: 401, Message: "bad token"}
	assert.True(t, auth.IsAuthError())
	assert.True(t, IsAuthError(auth))
	assert.Contains(t, auth.Error(), "status 401")

	limited := &APIError{StatusCode: 429}
	assert.False(t, limited.IsClientError())

	notFound := &APIError{StatusCode: 404, Code: "100"}
	assert.True(t, notFound.IsClientError())
	assert.False(t, IsAuthError(notFound))
	assert.Contains(t, notFound.Error(), "code 100")
}
