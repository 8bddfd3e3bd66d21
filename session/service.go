package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openreel/reelkit/agent"
)

// CustomModelKey selects the client-supplied model credentials instead of
// an entry from the configured models table.
const CustomModelKey = "__custom__"

// ModelOverride is a complete set of model credentials.
type ModelOverride struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func (o *ModelOverride) validate(label string) error {
	if o.Model == "" || o.BaseURL == "" || o.APIKey == "" {
		return fmt.Errorf("custom %s config incomplete: model/base_url/api_key are all required", label)
	}
	if !strings.HasPrefix(o.BaseURL, "http://") && !strings.HasPrefix(o.BaseURL, "https://") {
		return fmt.Errorf("custom %s base_url must start with http(s)", label)
	}
	return nil
}

// ServiceConfig is the per-turn service override block a client may send
// with chat.send.
type ServiceConfig struct {
	LLM    *ModelOverride
	VLM    *ModelOverride
	TTS    map[string]any
	Search *SearchKeyConfig
}

// SearchKeyConfig selects the stock-media API key source.
type SearchKeyConfig struct {
	Mode   string // default | custom
	APIKey string
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// ParseServiceConfig validates a raw service_config block. A nil or
// non-object block parses to an empty config.
func ParseServiceConfig(raw map[string]any) (*ServiceConfig, error) {
	out := &ServiceConfig{}
	if raw == nil {
		return out, nil
	}

	if cm, ok := raw["custom_models"]; ok && cm != nil {
		obj, ok := cm.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("service_config.custom_models must be an object")
		}
		var err error
		if out.LLM, err = pickOverride(obj["llm"], "llm"); err != nil {
			return nil, err
		}
		if out.VLM, err = pickOverride(obj["vlm"], "vlm"); err != nil {
			return nil, err
		}
	}

	if tts, ok := raw["tts"].(map[string]any); ok {
		provider := strings.ToLower(str(tts["provider"]))
		if provider == "" {
			provider = "indextts"
		}
		cfg := map[string]any{"provider": provider}
		if vi := str(tts["voice_index"]); vi != "" {
			cfg["voice_index"] = vi
		}
		if block, ok := tts[provider].(map[string]any); ok {
			cfg[provider] = block
		}
		out.TTS = cfg
	}

	if sm, ok := raw["search_media"].(map[string]any); ok {
		block := sm
		if p, ok := sm["pexels"].(map[string]any); ok {
			block = p
		}
		mode := strings.ToLower(str(block["mode"]))
		if mode != "custom" {
			mode = "default"
		}
		key := str(block["api_key"])
		if key == "" {
			key = str(block["pexels_api_key"])
		}
		out.Search = &SearchKeyConfig{Mode: mode, APIKey: key}
	}

	return out, nil
}

func pickOverride(v any, label string) (*ModelOverride, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("service_config.custom_models.%s must be an object", label)
	}
	o := &ModelOverride{
		Model:   str(obj["model"]),
		BaseURL: str(obj["base_url"]),
		APIKey:  str(obj["api_key"]),
	}
	if err := o.validate(label); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyServiceConfig folds a parsed service_config into the session.
// Absent sections keep the current values.
func (s *Session) ApplyServiceConfig(raw map[string]any) error {
	cfg, err := ParseServiceConfig(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.LLM != nil {
		s.customLLM = cfg.LLM
	}
	if cfg.VLM != nil {
		s.customVLM = cfg.VLM
	}
	if len(cfg.TTS) > 0 {
		s.ttsConfig = cfg.TTS
	}
	if cfg.Search != nil {
		s.searchMode = cfg.Search.Mode
		if cfg.Search.Mode == "custom" {
			s.searchKey = cfg.Search.APIKey
		} else {
			s.searchKey = ""
		}
	}
	return nil
}

// TTSConfig returns the active TTS selection, falling back to the server
// defaults when the client never sent one.
func (s *Session) TTSConfig() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ttsConfig) > 0 {
		out := make(map[string]any, len(s.ttsConfig))
		for k, v := range s.ttsConfig {
			out[k] = v
		}
		return out
	}
	out := map[string]any{}
	if s.cfg.TTS.Provider != "" {
		out["provider"] = s.cfg.TTS.Provider
	}
	if s.cfg.TTS.VoiceIndex != "" {
		out["voice_index"] = s.cfg.TTS.VoiceIndex
	}
	if s.cfg.TTS.BaseURL != "" {
		out["base_url"] = s.cfg.TTS.BaseURL
	}
	return out
}

// SearchAPIKey returns the stock-media key: the custom one when selected,
// otherwise the server default.
func (s *Session) SearchAPIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchMode == "custom" && s.searchKey != "" {
		return s.searchKey
	}
	return s.cfg.Search.APIKey
}

// resolveOverride turns a model key into concrete credentials.
func (s *Session) resolveOverride(key string, custom *ModelOverride, label string) (*ModelOverride, error) {
	if key == CustomModelKey {
		if custom == nil {
			return nil, fmt.Errorf("please fill in model/base_url/api_key of custom %s", label)
		}
		return custom, nil
	}
	m, ok := s.cfg.Models[key]
	if !ok {
		return nil, fmt.Errorf("unknown %s model key: %s", label, key)
	}
	o := &ModelOverride{Model: m.Model, BaseURL: m.BaseURL, APIKey: m.APIKey}
	if o.Model == "" {
		o.Model = key
	}
	if o.BaseURL == "" || o.APIKey == "" {
		envURL, envKey := envCredentialsForModel(o.Model)
		if o.BaseURL == "" {
			o.BaseURL = strings.TrimRight(envURL, "/")
		}
		if o.APIKey == "" {
			o.APIKey = envKey
		}
	}
	if o.BaseURL == "" || o.APIKey == "" {
		return nil, fmt.Errorf("model %q is missing base_url/api_key: set them in the models table or via environment variables", key)
	}
	return o, nil
}

// envCredentialsForModel maps a model name to the environment variables
// holding its endpoint and key. Only the well-known hosted models have a
// mapping; anything else must be configured in the models table.
func envCredentialsForModel(model string) (baseURL, apiKey string) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.Contains(m, "deepseek"):
		return os.Getenv("DEEPSEEK_API_URL"), os.Getenv("DEEPSEEK_API_KEY")
	case strings.Contains(m, "qwen3-vl-8b-instruct"):
		return os.Getenv("QWEN3_VL_8B_API_URL"), os.Getenv("QWEN3_VL_8B_API_KEY")
	}
	return "", ""
}

// AgentFactory builds an agent for a resolved model pair.
type AgentFactory func(s *Session, llm, vlm *ModelOverride) (agent.Agent, error)

// EnsureAgent resolves the current model selection and (re)builds the
// agent when the resolved credentials changed since the last build.
func (s *Session) EnsureAgent(factory AgentFactory) (agent.Agent, error) {
	llmKey, vlmKey := s.ModelKeys()

	s.mu.Lock()
	customLLM, customVLM := s.customLLM, s.customVLM
	s.mu.Unlock()

	llm, err := s.resolveOverride(llmKey, customLLM, "LLM")
	if err != nil {
		return nil, err
	}
	vlm, err := s.resolveOverride(vlmKey, customVLM, "VLM")
	if err != nil {
		return nil, err
	}

	key := stableKey(llm, vlm)

	s.mu.Lock()
	current, currentKey := s.agent, s.buildKey
	s.mu.Unlock()
	if current != nil && currentKey == key {
		return current, nil
	}

	built, err := factory(s, llm, vlm)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.agent = built
	s.buildKey = key
	s.mu.Unlock()
	return built, nil
}

// stableKey serializes the override pair deterministically, in order.
func stableKey(parts ...*ModelOverride) string {
	blobs := make([]string, 0, len(parts)+1)
	blobs = append(blobs, "models")
	for _, p := range parts {
		raw, err := json.Marshal(p)
		if err != nil {
			raw = []byte(fmt.Sprint(p))
		}
		blobs = append(blobs, string(raw))
	}
	return strings.Join(blobs, "|")
}
