package interceptor

import (
	"context"
	"strings"

	"github.com/openreel/reelkit/tools"
)

// TTSInjector fills text-to-speech settings into voiceover tool args. Caller
// args win; only absent keys are filled.
type TTSInjector struct {
	// cfg returns the session's current TTS config:
	// {provider, voice_index, <provider>: {…provider fields…}}.
	cfg func() map[string]any
}

// NewTTSInjector returns an injector reading the live session TTS config.
func NewTTSInjector(cfg func() map[string]any) *TTSInjector {
	return &TTSInjector{cfg: cfg}
}

// Process implements Interceptor.
func (t *TTSInjector) Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error) {
	if !strings.Contains(req.Tool, "voiceover") {
		return next(ctx, req)
	}
	cfg := t.cfg()
	if cfg == nil {
		return next(ctx, req)
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	setDefault(req.Args, "provider", cfg["provider"])
	setDefault(req.Args, "voice_index", cfg["voice_index"])
	if provider, _ := cfg["provider"].(string); provider != "" {
		if sub, ok := cfg[provider].(map[string]any); ok {
			for k, v := range sub {
				setDefault(req.Args, k, v)
			}
		}
	}
	return next(ctx, req)
}

// SearchKeyInjector fills the asset-search API key into search tool args.
type SearchKeyInjector struct {
	key func() string
}

// NewSearchKeyInjector returns an injector reading the live session key.
func NewSearchKeyInjector(key func() string) *SearchKeyInjector {
	return &SearchKeyInjector{key: key}
}

// Process implements Interceptor.
func (s *SearchKeyInjector) Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error) {
	if strings.Contains(req.Tool, tools.MediaSearchTool) {
		if k := s.key(); k != "" {
			if req.Args == nil {
				req.Args = map[string]any{}
			}
			setDefault(req.Args, "api_key", k)
		}
	}
	return next(ctx, req)
}

func setDefault(args map[string]any, key string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	if _, present := args[key]; !present {
		args[key] = value
	}
}
