package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:     "8080",
		Instance: "mastodon.social",
		Env:      "development",
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("missing instance", func(t *testing.T) {
		cfg := validConfig()
		cfg.Instance = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("instance must be a bare hostname", func(t *testing.T) {
		for _, bad := range []string{"https://mastodon.social", "mastodon.social/api", "wss://mastodon.social"} {
			cfg := validConfig()
			cfg.Instance = bad
			assert.Error(t, cfg.Validate(), bad)
		}
	})
}

func TestBannedWordList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "spam", want: []string{"spam"}},
		{name: "lowercased and trimmed", raw: " Spam , CRYPTO ", want: []string{"spam", "crypto"}},
		{name: "empties discarded", raw: "spam,,  ,scam", want: []string{"spam", "scam"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.BannedWords = tc.raw
			assert.Equal(t, tc.want, cfg.BannedWordList())
		})
	}
}
