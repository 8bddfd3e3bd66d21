package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/reelkit/agent"
	"github.com/openreel/reelkit/config"
)

func TestParseServiceConfigCustomModels(t *testing.T) {
	cfg, err := ParseServiceConfig(map[string]any{
		"custom_models": map[string]any{
			"llm": map[string]any{
				"model": "my-llm", "base_url": "https://llm.example.com", "api_key": "k1",
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.LLM)
	assert.Equal(t, "my-llm", cfg.LLM.Model)
	assert.Nil(t, cfg.VLM)
}

func TestParseServiceConfigRejectsIncomplete(t *testing.T) {
	_, err := ParseServiceConfig(map[string]any{
		"custom_models": map[string]any{
			"llm": map[string]any{"model": "m", "base_url": "https://x"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")

	_, err = ParseServiceConfig(map[string]any{
		"custom_models": map[string]any{
			"vlm": map[string]any{"model": "m", "base_url": "ftp://x", "api_key": "k"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http(s)")

	_, err = ParseServiceConfig(map[string]any{"custom_models": "nope"})
	require.Error(t, err)
}

func TestParseServiceConfigTTS(t *testing.T) {
	cfg, err := ParseServiceConfig(map[string]any{
		"tts": map[string]any{
			"voice_index": "zh_female_intellectual",
			"indextts":    map[string]any{"base_url": "http://tts.local"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "indextts", cfg.TTS["provider"])
	assert.Equal(t, "zh_female_intellectual", cfg.TTS["voice_index"])
	assert.Equal(t, map[string]any{"base_url": "http://tts.local"}, cfg.TTS["indextts"])
}

func TestParseServiceConfigSearchKey(t *testing.T) {
	cfg, err := ParseServiceConfig(map[string]any{
		"search_media": map[string]any{
			"pexels": map[string]any{"mode": "custom", "api_key": "pk-1"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.Search)
	assert.Equal(t, "custom", cfg.Search.Mode)
	assert.Equal(t, "pk-1", cfg.Search.APIKey)

	// Flat form, unknown mode falls back to default.
	cfg, err = ParseServiceConfig(map[string]any{
		"search_media": map[string]any{"mode": "weird", "pexels_api_key": "pk-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Search.Mode)
}

func TestApplySearchKeySelection(t *testing.T) {
	s := newTestSession(t)
	s.cfg.Search.APIKey = "server-key"
	assert.Equal(t, "server-key", s.SearchAPIKey())

	require.NoError(t, s.ApplyServiceConfig(map[string]any{
		"search_media": map[string]any{"mode": "custom", "api_key": "user-key"},
	}))
	assert.Equal(t, "user-key", s.SearchAPIKey())

	require.NoError(t, s.ApplyServiceConfig(map[string]any{
		"search_media": map[string]any{"mode": "default"},
	}))
	assert.Equal(t, "server-key", s.SearchAPIKey())
}

func TestTTSConfigFallsBackToServerDefaults(t *testing.T) {
	s := newTestSession(t)
	got := s.TTSConfig()
	assert.Equal(t, "indextts", got["provider"])

	require.NoError(t, s.ApplyServiceConfig(map[string]any{
		"tts": map[string]any{"provider": "other", "voice_index": "v1"},
	}))
	got = s.TTSConfig()
	assert.Equal(t, "other", got["provider"])
	assert.Equal(t, "v1", got["voice_index"])
}

type nopAgent struct{ tag string }

func (a *nopAgent) Stream(ctx context.Context, msgs []agent.Message) (<-chan agent.StreamEvent, error) {
	ch := make(chan agent.StreamEvent)
	close(ch)
	return ch, nil
}

func TestEnsureAgentRebuildsOnConfigChange(t *testing.T) {
	s := newTestSession(t)

	builds := 0
	factory := func(sess *Session, llm, vlm *ModelOverride) (agent.Agent, error) {
		builds++
		return &nopAgent{}, nil
	}

	first, err := s.EnsureAgent(factory)
	require.NoError(t, err)
	second, err := s.EnsureAgent(factory)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)

	// Switching to custom credentials forces a rebuild.
	s.SetModelKeys(CustomModelKey, "")
	require.NoError(t, s.ApplyServiceConfig(map[string]any{
		"custom_models": map[string]any{
			"llm": map[string]any{"model": "m2", "base_url": "https://x", "api_key": "k"},
		},
	}))
	_, err = s.EnsureAgent(factory)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestResolveOverrideEnvFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.MediaDir = t.TempDir()
	cfg.Models = map[string]config.ModelConfig{
		"deepseek": {Model: "deepseek-chat"},
	}
	s := newSessionWith(t, cfg)

	_, err := s.resolveOverride("deepseek", nil, "LLM")
	require.Error(t, err)

	t.Setenv("DEEPSEEK_API_URL", "https://env.example.com/")
	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	o, err := s.resolveOverride("deepseek", nil, "LLM")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", o.Model)
	assert.Equal(t, "https://env.example.com", o.BaseURL)
	assert.Equal(t, "sk-env", o.APIKey)

	// Configured credentials win over the environment.
	cfg.Models["deepseek"] = config.ModelConfig{Model: "deepseek-chat", BaseURL: "https://cfg", APIKey: "sk-cfg"}
	o, err = s.resolveOverride("deepseek", nil, "LLM")
	require.NoError(t, err)
	assert.Equal(t, "sk-cfg", o.APIKey)
}

func TestEnsureAgentErrors(t *testing.T) {
	s := newTestSession(t)
	factory := func(sess *Session, llm, vlm *ModelOverride) (agent.Agent, error) {
		return &nopAgent{}, nil
	}

	s.SetModelKeys(CustomModelKey, "")
	_, err := s.EnsureAgent(factory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom LLM")

	s.SetModelKeys("deepseek", "missing-key")
	_, err = s.EnsureAgent(factory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown VLM")
}
