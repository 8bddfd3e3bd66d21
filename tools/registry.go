package tools

import (
	"encoding/json"
	"fmt"
)

// Names of tools with special handling in the interceptor chain.
const (
	// MediaIngestTool scans the session media directory and inlines blobs.
	MediaIngestTool = "load_media"
	// MediaSearchTool fetches stock assets; its result blobs land in the
	// session media directory.
	MediaSearchTool = "search_media"
	// HistoryTool loads any prior artifact by id.
	HistoryTool = "read_node_history"
)

// Dependency kinds produced and consumed by pipeline nodes.
const (
	KindMedia          = "media"
	KindShots          = "shots"
	KindClipAnalysis   = "clip_analysis"
	KindFilteredClips  = "filtered_clips"
	KindClipGroups     = "clip_groups"
	KindScriptTemplate = "script_template"
	KindScript         = "script"
	KindEffects        = "effects"
	KindVoiceover      = "voiceover"
	KindBGM            = "bgm"
	KindTimeline       = "timeline"
	KindVideo          = "video"
)

// Descriptor declares one pipeline node: the kind it produces, the kinds it
// needs before it can run, and the kinds it will use when already available
// but never triggers production of.
type Descriptor struct {
	Name          string
	Description   string
	ProducedKind  string
	RequiredKinds []string
	OptionalKinds []string
	// Mandatory nodes run even when a template omits them, and their
	// failure aborts a pipeline run.
	Mandatory bool
	// InputSchema validates caller-supplied args (JSON Schema).
	InputSchema json.RawMessage
}

// Registry is an ordered set of node descriptors. Order is the pipeline's
// topological order and doubles as candidate priority when several nodes
// produce the same kind.
type Registry struct {
	order []string
	nodes map[string]*Descriptor
}

// NewRegistry builds a registry from descriptors in priority order.
func NewRegistry(descriptors ...*Descriptor) *Registry {
	r := &Registry{nodes: map[string]*Descriptor{}}
	for _, d := range descriptors {
		if _, dup := r.nodes[d.Name]; dup {
			continue
		}
		r.order = append(r.order, d.Name)
		r.nodes[d.Name] = d
	}
	return r
}

// Get returns the descriptor for a node name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return d, nil
}

// Has reports whether the node is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.nodes[name]
	return ok
}

// Order returns the node names in pipeline order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Producers returns the nodes producing kind, in priority order.
func (r *Registry) Producers(kind string) []*Descriptor {
	var out []*Descriptor
	for _, name := range r.order {
		if d := r.nodes[name]; d.ProducedKind == kind {
			out = append(out, d)
		}
	}
	return out
}

var anyObjectSchema = json.RawMessage(`{"type":"object"}`)

var userRequestSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"user_request": {"type": "string"}
	}
}`)

// DefaultRegistry returns the built-in editing pipeline: thirteen nodes in
// topological order, from asset ingest through final render.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&Descriptor{
			Name:         MediaSearchTool,
			Description:  "Search stock assets matching the request and stage them as session media.",
			ProducedKind: KindMedia,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"count": {"type": "integer", "minimum": 1, "maximum": 20},
					"api_key": {"type": "string"}
				}
			}`),
		},
		&Descriptor{
			Name:         MediaIngestTool,
			Description:  "Load the session's uploaded media for downstream analysis.",
			ProducedKind: KindMedia,
			Mandatory:    true,
			InputSchema:  anyObjectSchema,
		},
		&Descriptor{
			Name:          "split_shots",
			Description:   "Split source videos into shots at scene boundaries.",
			ProducedKind:  KindShots,
			RequiredKinds: []string{KindMedia},
			InputSchema:   anyObjectSchema,
		},
		&Descriptor{
			Name:          "understand_clips",
			Description:   "Describe each shot's content for filtering and scripting.",
			ProducedKind:  KindClipAnalysis,
			RequiredKinds: []string{KindShots},
			InputSchema:   anyObjectSchema,
		},
		&Descriptor{
			Name:          "filter_clips",
			Description:   "Keep the shots matching the user's brief.",
			ProducedKind:  KindFilteredClips,
			RequiredKinds: []string{KindClipAnalysis},
			InputSchema:   userRequestSchema,
		},
		&Descriptor{
			Name:          "group_clips",
			Description:   "Arrange kept shots into narrative groups.",
			ProducedKind:  KindClipGroups,
			RequiredKinds: []string{KindFilteredClips},
			InputSchema:   userRequestSchema,
		},
		&Descriptor{
			Name:          "script_template_rec",
			Description:   "Recommend a script structure for the grouped material.",
			ProducedKind:  KindScriptTemplate,
			RequiredKinds: []string{KindClipGroups},
			InputSchema:   userRequestSchema,
		},
		&Descriptor{
			Name:          "generate_script",
			Description:   "Write the narration script for the edit.",
			ProducedKind:  KindScript,
			RequiredKinds: []string{KindClipGroups},
			OptionalKinds: []string{KindScriptTemplate},
			InputSchema:   userRequestSchema,
		},
		&Descriptor{
			Name:          "recommend_effects",
			Description:   "Suggest transitions and effects per group.",
			ProducedKind:  KindEffects,
			RequiredKinds: []string{KindScript},
			InputSchema:   anyObjectSchema,
		},
		&Descriptor{
			Name:          "generate_voiceover",
			Description:   "Synthesize the narration audio from the script.",
			ProducedKind:  KindVoiceover,
			RequiredKinds: []string{KindScript},
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"provider": {"type": "string"},
					"voice_index": {"type": "string"}
				}
			}`),
		},
		&Descriptor{
			Name:         "select_BGM",
			Description:  "Pick background music from the local library.",
			ProducedKind: KindBGM,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"filter_include": {"type": "object"}
				}
			}`),
		},
		&Descriptor{
			Name:          "plan_timeline",
			Description:   "Assemble the final timeline from shots, script, audio and effects.",
			ProducedKind:  KindTimeline,
			RequiredKinds: []string{KindShots},
			OptionalKinds: []string{KindScript, KindVoiceover, KindBGM, KindEffects, KindClipGroups},
			Mandatory:     true,
			InputSchema:   anyObjectSchema,
		},
		&Descriptor{
			Name:          "render_video",
			Description:   "Render the planned timeline to the output video.",
			ProducedKind:  KindVideo,
			RequiredKinds: []string{KindTimeline},
			Mandatory:     true,
			InputSchema:   anyObjectSchema,
		},
	)
}
