package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
)

func setLocalEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"SCL_URL":            "127.0.0.1",
		"SCL_PORT":           "8080",
		"SCL_DELAY":          "5",
		"OVSB_CRITICAL_SIZE": "4",
		"SCL_ACT_MONITORING": "300",
		"SCL_ACT_LEARNING":   "60",
		"SCL_ACT_LEEWAY":     "8",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadLocalSucceedsWithAllRequiredVars(t *testing.T) {
	setLocalEnv(t)
	c, err := LoadLocal()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", c.URL)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, 5.0, c.Delay)
	require.Equal(t, 4, c.OversubCriticalSize)
}

func TestLoadLocalFailsWhenMissing(t *testing.T) {
	_, err := LoadLocal()
	require.Error(t, err)
	require.True(t, schederr.Is(err, schederr.ConfigMissing))
}

func TestLoadGlobalParsesNodeList(t *testing.T) {
	t.Setenv("SCG_URL", "127.0.0.1")
	t.Setenv("SCG_PORT", "9090")
	t.Setenv("SCG_DELAY", "10")
	t.Setenv("SCG_NODE_URL_LIST", "http://a:8080, http://b:8080")

	c, err := LoadGlobal()
	require.NoError(t, err)
	require.Equal(t, []string{"http://a:8080", "http://b:8080"}, c.NodeURLList)
}
