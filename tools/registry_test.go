package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/reelkit/artifact"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry()

	want := []string{
		"search_media", "load_media", "split_shots", "understand_clips",
		"filter_clips", "group_clips", "script_template_rec", "generate_script",
		"recommend_effects", "generate_voiceover", "select_BGM",
		"plan_timeline", "render_video",
	}
	assert.Equal(t, want, r.Order())
}

func TestRegistryMandatorySet(t *testing.T) {
	r := DefaultRegistry()

	for _, name := range r.Order() {
		d, err := r.Get(name)
		require.NoError(t, err)
		mandatory := name == "load_media" || name == "plan_timeline" || name == "render_video"
		assert.Equal(t, mandatory, d.Mandatory, name)
	}
}

func TestRegistryProducers(t *testing.T) {
	r := DefaultRegistry()

	producers := r.Producers(KindMedia)
	require.Len(t, producers, 2)
	// Registry order doubles as candidate priority.
	assert.Equal(t, MediaSearchTool, producers[0].Name)
	assert.Equal(t, MediaIngestTool, producers[1].Name)

	timeline := r.Producers(KindTimeline)
	require.Len(t, timeline, 1)
	assert.Equal(t, "plan_timeline", timeline[0].Name)

	assert.Empty(t, r.Producers("no_such_kind"))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Get("transmogrify")
	assert.Error(t, err)
	assert.False(t, r.Has("transmogrify"))
	assert.True(t, r.Has("split_shots"))
}

func TestSchemaValidatorArgs(t *testing.T) {
	r := DefaultRegistry()
	sv := NewSchemaValidator()

	d, err := r.Get("filter_clips")
	require.NoError(t, err)

	assert.NoError(t, sv.ValidateArgs(d, map[string]any{"user_request": "keep scenic shots"}))
	assert.NoError(t, sv.ValidateArgs(d, map[string]any{}))
	assert.Error(t, sv.ValidateArgs(d, map[string]any{"user_request": 42}))

	search, err := r.Get(MediaSearchTool)
	require.NoError(t, err)
	assert.Error(t, sv.ValidateArgs(search, map[string]any{"count": 100}))
	assert.NoError(t, sv.ValidateArgs(search, map[string]any{"query": "beach", "count": 5}))
}

func TestReadNodeHistory(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), "sess-1")
	require.NoError(t, err)

	id := store.GenerateArtifactID("split_shots")
	_, err = store.SaveResult("split_shots", id, "split ok", map[string]any{"n": 2.0}, "")
	require.NoError(t, err)

	handler := ReadNodeHistory(store)

	res, err := handler(context.Background(), &Request{
		Tool: HistoryTool,
		Args: map[string]any{"query_artifact_id": id},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	history := res.ToolExecuteResult["history"].(map[string]any)
	assert.Equal(t, map[string]any{"n": 2.0}, history["node_data"])

	res, err = handler(context.Background(), &Request{
		Tool: HistoryTool,
		Args: map[string]any{"query_artifact_id": "missing_00000000"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Summary, "missing_00000000")
}
