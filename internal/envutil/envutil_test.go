package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Run("exact key wins", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "/etc/a.yaml")
		t.Setenv("HUB_CONFIG_FILE", "/etc/b.yaml")
		assert.Equal(t, "/etc/a.yaml", Get("CONFIG_FILE", ""))
	})

	t.Run("prefix fallback", func(t *testing.T) {
		t.Setenv("HUB_LOG_DIR", "/var/log/hub")
		assert.Equal(t, "/var/log/hub", Get("LOG_DIR", ""))
	})

	t.Run("fallback value", func(t *testing.T) {
		assert.Equal(t, "default", Get("ENVUTIL_TEST_UNSET_KEY", "default"))
	})

	t.Run("already prefixed key not double-prefixed", func(t *testing.T) {
		assert.Equal(t, "x", Get("HUB_ENVUTIL_TEST_UNSET", "x"))
	})
}
