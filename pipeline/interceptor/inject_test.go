package interceptor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/tools"
)

type fixture struct {
	store    *artifact.Store
	registry *tools.Registry
	mediaDir string

	mu    sync.Mutex
	calls []*tools.Request
	chain Next
}

// newFixture assembles the full chain around a backend that records calls
// and saves a minimal artifact for every tool it runs.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "sess-1")
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		registry: tools.DefaultRegistry(),
		mediaDir: t.TempDir(),
	}
	backend := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		f.mu.Lock()
		f.calls = append(f.calls, req)
		f.mu.Unlock()
		return &tools.Result{
			ArtifactID:        req.ArtifactID,
			ToolExecuteResult: map[string]any{"tool": req.Tool},
			Summary:           req.Tool + " ok",
		}, nil
	}

	injector := NewDependencyInjector(f.registry, store, f.mediaDir)
	persister := NewResultPersister(store, f.mediaDir)
	f.chain = Chain(backend, injector, persister)
	injector.SetChain(f.chain)
	return f
}

func (f *fixture) calledTools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Tool
	}
	return out
}

func TestInjectorMintsArtifactID(t *testing.T) {
	f := newFixture(t)

	res, err := f.chain(context.Background(), &tools.Request{
		SessionID: "sess-1", Tool: tools.MediaIngestTool, Mode: tools.ModeAuto,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^load_media_[0-9a-f-]{8}$`, res.ArtifactID)
}

func TestInjectorInlinesSessionMedia(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.mediaDir, "media_0001.png"), []byte("img"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.mediaDir, "media_0002.mp4"), []byte("vid"), 0o644))
	// Hidden dirs are not media.
	require.NoError(t, os.MkdirAll(filepath.Join(f.mediaDir, ".thumbs"), 0o755))

	_, err := f.chain(context.Background(), &tools.Request{
		SessionID: "sess-1", Tool: tools.MediaIngestTool, Mode: tools.ModeAuto,
	})
	require.NoError(t, err)

	req := f.calls[0]
	inputs := req.Args["inputs"].(map[string]any)["inputs"].([]any)
	require.Len(t, inputs, 2)
	first := inputs[0].(map[string]any)
	assert.NotEmpty(t, first["base64"])
	assert.NotEmpty(t, first["md5"])
	assert.Equal(t, "image", first["kind"])
}

func TestInjectorLoadsExistingDependency(t *testing.T) {
	f := newFixture(t)

	// A prior split_shots artifact satisfies understand_clips' requirement.
	id := f.store.GenerateArtifactID("split_shots")
	_, err := f.store.SaveResult("split_shots", id, "prior", map[string]any{"shots": 3.0}, "")
	require.NoError(t, err)

	_, err = f.chain(context.Background(), &tools.Request{
		SessionID: "sess-1", Tool: "understand_clips", Mode: tools.ModeAuto,
	})
	require.NoError(t, err)

	// No producer was re-run.
	assert.Equal(t, []string{"understand_clips"}, f.calledTools())
	req := f.calls[0]
	dep := req.Args[tools.KindShots].(map[string]any)
	assert.Equal(t, 3.0, dep["shots"])
}

func TestInjectorProducesMissingDependencyRecursively(t *testing.T) {
	f := newFixture(t)

	// understand_clips needs shots; split_shots needs media; nothing exists,
	// so the injector walks the chain down to a media producer.
	_, err := f.chain(context.Background(), &tools.Request{
		SessionID: "sess-1", Tool: "understand_clips", Mode: tools.ModeAuto,
	})
	require.NoError(t, err)

	called := f.calledTools()
	// Producers run in registry order: search_media is tried for media first.
	assert.Equal(t, []string{"search_media", "split_shots", "understand_clips"}, called)

	// Recursive runs use default mode.
	for _, c := range f.calls[:2] {
		assert.Equal(t, tools.ModeDefault, c.Mode)
	}
}

func TestInjectorDepthCap(t *testing.T) {
	// A registry with a self-cycle: node "a" produces "ka" but requires "ka".
	registry := tools.NewRegistry(&tools.Descriptor{
		Name:          "a",
		ProducedKind:  "ka",
		RequiredKinds: []string{"ka"},
	})
	store, err := artifact.NewStore(t.TempDir(), "sess-1")
	require.NoError(t, err)

	backend := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		return &tools.Result{ArtifactID: req.ArtifactID}, nil
	}
	injector := NewDependencyInjector(registry, store, t.TempDir())
	chain := Chain(backend, injector)
	injector.SetChain(chain)

	_, err = chain(context.Background(), &tools.Request{SessionID: "sess-1", Tool: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestPersisterStoresSuccessfulResults(t *testing.T) {
	f := newFixture(t)

	res, err := f.chain(context.Background(), &tools.Request{
		SessionID: "sess-1", Tool: "select_BGM", Mode: tools.ModeAuto,
	})
	require.NoError(t, err)

	meta, env, err := f.store.LoadResult(res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "select_BGM", meta.NodeID)
	assert.Equal(t, "select_BGM ok", meta.Summary)
	assert.Equal(t, "select_BGM", env.Payload["tool"])
}

func TestPersisterSkipsErrors(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), "sess-1")
	require.NoError(t, err)

	backend := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		return &tools.Result{ArtifactID: req.ArtifactID, Summary: "boom", IsError: true}, nil
	}
	chain := Chain(backend, NewResultPersister(store, t.TempDir()))

	res, err := chain(context.Background(), &tools.Request{Tool: "select_BGM", ArtifactID: "select_BGM_deadbeef"})
	require.NoError(t, err)
	require.True(t, res.IsError)

	_, _, err = store.LoadResult("select_BGM_deadbeef")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestAgentUpdateShape(t *testing.T) {
	req := &tools.Request{Tool: "split_shots"}
	res := &tools.Result{
		ArtifactID:        "split_shots_0001",
		Summary:           "split into 4 shots",
		ToolExecuteResult: map[string]any{"shots": 4.0},
	}
	update := AgentUpdate(req, res)
	assert.Equal(t, "done", update["status"])
	msg := update["messages"].([]any)[0].(map[string]any)
	content := msg["content"].(map[string]any)
	summary := content["summary"].(map[string]any)
	assert.Equal(t, "split into 4 shots", summary["node_summary"])
	// Ordinary tools do not leak the raw result into the agent message.
	assert.NotContains(t, summary, "tool_execute_result")

	hreq := &tools.Request{Tool: tools.HistoryTool}
	hres := &tools.Result{ToolExecuteResult: map[string]any{"history": "x"}}
	hupdate := AgentUpdate(hreq, hres)
	hsummary := hupdate["messages"].([]any)[0].(map[string]any)["content"].(map[string]any)["summary"].(map[string]any)
	assert.Contains(t, hsummary, "tool_execute_result")
}

func TestTTSInjectorSetDefaults(t *testing.T) {
	cfg := map[string]any{
		"provider":    "indextts",
		"voice_index": "female_02",
		"indextts":    map[string]any{"base_url": "http://tts.local"},
	}
	injector := NewTTSInjector(func() map[string]any { return cfg })

	var got *tools.Request
	terminal := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		got = req
		return &tools.Result{}, nil
	}
	chain := Chain(terminal, injector)

	_, err := chain(context.Background(), &tools.Request{
		Tool: "generate_voiceover",
		Args: map[string]any{"voice_index": "male_01"},
	})
	require.NoError(t, err)
	// Caller args win; missing keys are filled.
	assert.Equal(t, "male_01", got.Args["voice_index"])
	assert.Equal(t, "indextts", got.Args["provider"])
	assert.Equal(t, "http://tts.local", got.Args["base_url"])

	// Non-voiceover tools are untouched.
	_, err = chain(context.Background(), &tools.Request{Tool: "split_shots", Args: map[string]any{}})
	require.NoError(t, err)
	assert.NotContains(t, got.Args, "provider")
}

func TestSearchKeyInjector(t *testing.T) {
	injector := NewSearchKeyInjector(func() string { return "pk-123" })

	var got *tools.Request
	terminal := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		got = req
		return &tools.Result{}, nil
	}
	chain := Chain(terminal, injector)

	_, err := chain(context.Background(), &tools.Request{Tool: "search_media"})
	require.NoError(t, err)
	assert.Equal(t, "pk-123", got.Args["api_key"])

	_, err = chain(context.Background(), &tools.Request{
		Tool: "search_media",
		Args: map[string]any{"api_key": "user-key"},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-key", got.Args["api_key"])
}
