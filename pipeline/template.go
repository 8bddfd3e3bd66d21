// Package pipeline runs the editing pipeline: templates describe which nodes
// run and how, the store persists them, and the executor walks the node order
// driving tool invocations through the interceptor chain.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/openreel/reelkit/tools"
)

// Node execution modes within a template.
const (
	ModeAuto    = "auto"
	ModeSkip    = "skip"
	ModeDefault = "default"
)

// Pipeline automation modes.
const (
	FullAuto = "full_auto"
	SemiAuto = "semi_auto"
)

// Semi-auto confirmation timeout bounds (seconds).
const (
	MinConfirmTimeoutSec     = 3
	MaxConfirmTimeoutSec     = 60
	DefaultConfirmTimeoutSec = 10
)

// NodeConfig configures one node inside a template.
type NodeConfig struct {
	NodeID          string         `json:"node_id"`
	Mode            string         `json:"mode"`
	Params          map[string]any `json:"params,omitempty"`
	ConfirmRequired bool           `json:"confirm_required,omitempty"`
}

// Template is an editing template: per-node presets plus the automation mode.
type Template struct {
	TemplateID         string       `json:"template_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	Nodes              []NodeConfig `json:"nodes"`
	AutoMode           string       `json:"auto_mode"`
	SemiAutoTimeoutSec int          `json:"semi_auto_timeout_sec"`
	IsPreset           bool         `json:"is_preset"`
	CreatedAt          float64      `json:"created_at"`
	UpdatedAt          float64      `json:"updated_at"`
}

// NewTemplateID mints a 12-hex template id.
func NewTemplateID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

const templateSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"template_id": {"type": "string"},
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"auto_mode": {"enum": ["full_auto", "semi_auto"]},
		"semi_auto_timeout_sec": {"type": "integer"},
		"is_preset": {"type": "boolean"},
		"created_at": {"type": "number"},
		"updated_at": {"type": "number"},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["node_id"],
				"properties": {
					"node_id": {"type": "string", "minLength": 1},
					"mode": {"enum": ["auto", "skip", "default"]},
					"params": {"type": "object"},
					"confirm_required": {"type": "boolean"}
				}
			}
		}
	}
}`

var compiledTemplateSchema = gojsonschema.NewStringLoader(templateSchema)

// ParseTemplate validates raw JSON against the template schema and returns
// the normalized template.
func ParseTemplate(data []byte) (*Template, error) {
	result, err := gojsonschema.Validate(compiledTemplateSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validate template: %w", err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			details[i] = desc.String()
		}
		return nil, fmt.Errorf("invalid template: %v", details)
	}

	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	t.Normalize()
	return &t, nil
}

// Normalize fills defaults and clamps the confirmation timeout into
// [MinConfirmTimeoutSec, MaxConfirmTimeoutSec].
func (t *Template) Normalize() {
	if t.TemplateID == "" {
		t.TemplateID = NewTemplateID()
	}
	if t.AutoMode == "" {
		t.AutoMode = FullAuto
	}
	if t.SemiAutoTimeoutSec == 0 {
		t.SemiAutoTimeoutSec = DefaultConfirmTimeoutSec
	}
	if t.SemiAutoTimeoutSec < MinConfirmTimeoutSec {
		t.SemiAutoTimeoutSec = MinConfirmTimeoutSec
	}
	if t.SemiAutoTimeoutSec > MaxConfirmTimeoutSec {
		t.SemiAutoTimeoutSec = MaxConfirmTimeoutSec
	}
	// nil would persist as "nodes": null, which the schema rejects on reload.
	if t.Nodes == nil {
		t.Nodes = []NodeConfig{}
	}
	for i := range t.Nodes {
		if t.Nodes[i].Mode == "" {
			t.Nodes[i].Mode = ModeAuto
		}
	}
	now := nowUnix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
}

// Validate checks the template invariants after normalization.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name required")
	}
	if t.AutoMode != FullAuto && t.AutoMode != SemiAuto {
		return fmt.Errorf("invalid auto_mode %q", t.AutoMode)
	}
	for _, nc := range t.Nodes {
		switch nc.Mode {
		case ModeAuto, ModeSkip, ModeDefault:
		default:
			return fmt.Errorf("node %s: invalid mode %q", nc.NodeID, nc.Mode)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	data, _ := json.Marshal(t)
	var out Template
	_ = json.Unmarshal(data, &out)
	return &out
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Presets returns fresh copies of the built-in templates.
func Presets() []*Template {
	presets := []*Template{
		{
			TemplateID:  "preset_travel_vlog",
			Name:        "Travel Vlog",
			Description: "For travel footage: auto voiceover and upbeat background music.",
			IsPreset:    true,
			AutoMode:    FullAuto,
			Nodes: []NodeConfig{
				{NodeID: tools.MediaSearchTool, Mode: ModeSkip},
				{NodeID: tools.MediaIngestTool, Mode: ModeAuto},
				{NodeID: "split_shots", Mode: ModeAuto},
				{NodeID: "understand_clips", Mode: ModeAuto},
				{NodeID: "filter_clips", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Keep scenic shots with a strong sense of travel.",
				}},
				{NodeID: "group_clips", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Organize along the trip timeline, overview first then details.",
				}},
				{NodeID: "generate_script", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Light, upbeat travel vlog narration.",
				}},
				{NodeID: "generate_voiceover", Mode: ModeAuto},
				{NodeID: "select_BGM", Mode: ModeAuto, Params: map[string]any{
					"filter_include": map[string]any{
						"mood":  []any{"Chill", "Happy"},
						"scene": []any{"Travel", "Vlog"},
					},
				}},
				{NodeID: "plan_timeline", Mode: ModeAuto},
				{NodeID: "render_video", Mode: ModeAuto},
			},
		},
		{
			TemplateID:  "preset_food_short",
			Name:        "Food Short",
			Description: "For food and dining footage, highlighting texture and close-ups.",
			IsPreset:    true,
			AutoMode:    FullAuto,
			Nodes: []NodeConfig{
				{NodeID: tools.MediaSearchTool, Mode: ModeSkip},
				{NodeID: tools.MediaIngestTool, Mode: ModeAuto},
				{NodeID: "split_shots", Mode: ModeAuto},
				{NodeID: "understand_clips", Mode: ModeAuto},
				{NodeID: "filter_clips", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Keep food close-ups and cooking process shots.",
				}},
				{NodeID: "group_clips", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Follow the cooking flow from ingredients to the finished dish.",
				}},
				{NodeID: "generate_script", Mode: ModeAuto, Params: map[string]any{
					"user_request": "Concise food narration emphasizing ingredients and taste.",
				}},
				{NodeID: "generate_voiceover", Mode: ModeAuto},
				{NodeID: "select_BGM", Mode: ModeAuto, Params: map[string]any{
					"filter_include": map[string]any{
						"mood":  []any{"Chill", "Happy"},
						"scene": []any{"Food", "Cafe"},
					},
				}},
				{NodeID: "plan_timeline", Mode: ModeAuto},
				{NodeID: "render_video", Mode: ModeAuto},
			},
		},
		{
			TemplateID:  "preset_quick_cut",
			Name:        "Quick Cut",
			Description: "Minimal flow: skip filtering and voiceover for the fastest result.",
			IsPreset:    true,
			AutoMode:    FullAuto,
			Nodes: []NodeConfig{
				{NodeID: tools.MediaSearchTool, Mode: ModeSkip},
				{NodeID: tools.MediaIngestTool, Mode: ModeAuto},
				{NodeID: "split_shots", Mode: ModeAuto},
				{NodeID: "understand_clips", Mode: ModeSkip},
				{NodeID: "filter_clips", Mode: ModeSkip},
				{NodeID: "group_clips", Mode: ModeAuto},
				{NodeID: "generate_script", Mode: ModeSkip},
				{NodeID: "generate_voiceover", Mode: ModeSkip},
				{NodeID: "select_BGM", Mode: ModeAuto},
				{NodeID: "plan_timeline", Mode: ModeAuto},
				{NodeID: "render_video", Mode: ModeAuto},
			},
		},
		{
			TemplateID:         "preset_semi_auto",
			Name:               "Semi-auto Review",
			Description:        "Key steps wait for confirmation; timeouts fall back to defaults.",
			IsPreset:           true,
			AutoMode:           SemiAuto,
			SemiAutoTimeoutSec: DefaultConfirmTimeoutSec,
			Nodes: []NodeConfig{
				{NodeID: tools.MediaSearchTool, Mode: ModeSkip},
				{NodeID: tools.MediaIngestTool, Mode: ModeAuto},
				{NodeID: "split_shots", Mode: ModeAuto},
				{NodeID: "understand_clips", Mode: ModeAuto},
				{NodeID: "filter_clips", Mode: ModeAuto, ConfirmRequired: true},
				{NodeID: "group_clips", Mode: ModeAuto},
				{NodeID: "generate_script", Mode: ModeAuto, ConfirmRequired: true},
				{NodeID: "generate_voiceover", Mode: ModeAuto, ConfirmRequired: true},
				{NodeID: "select_BGM", Mode: ModeAuto},
				{NodeID: "plan_timeline", Mode: ModeAuto},
				{NodeID: "render_video", Mode: ModeAuto},
			},
		},
	}
	for _, p := range presets {
		p.Normalize()
	}
	return presets
}
