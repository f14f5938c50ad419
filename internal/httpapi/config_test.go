package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidateDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	require.Equal(t, []string{defaultAllowedOrigin}, cfg.AllowedOrigins)
}

func TestConfigValidateRejects(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "negative request timeout", cfg: Config{RequestTimeout: -time.Second}},
		{name: "negative shutdown timeout", cfg: Config{ShutdownTimeout: -time.Second}},
		{name: "bad origin", cfg: Config{AllowedOrigins: []string{"wallet.example"}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, testCase.cfg.Validate())
		})
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{}, ParseAllowedOrigins("  "))
	require.Equal(t, []string{"http://a.example", "https://b.example"}, ParseAllowedOrigins(" http://a.example , ,https://b.example"))
}

func TestCORSConfigAllOrigins(t *testing.T) {
	t.Parallel()
	cfg := corsConfig([]string{"*"})
	require.True(t, cfg.AllowAllOrigins)
	require.False(t, cfg.AllowCredentials)
	require.Empty(t, cfg.AllowOrigins)
}
