package interceptor

import (
	"context"

	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/tools"
)

// ResultPersister stores successful tool results in the artifact store after
// execution. Media-producing tools get their blobs written into the session
// media directory; everything else lands in the node's artifact directory.
type ResultPersister struct {
	store    *artifact.Store
	mediaDir string
}

// NewResultPersister returns a persister for one session.
func NewResultPersister(store *artifact.Store, mediaDir string) *ResultPersister {
	return &ResultPersister{store: store, mediaDir: mediaDir}
}

// Process implements Interceptor.
func (p *ResultPersister) Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error) {
	res, err := next(ctx, req)
	if err != nil || res == nil {
		return res, err
	}
	if res.IsError || req.Tool == tools.HistoryTool {
		return res, nil
	}

	blobDir := ""
	if req.Tool == tools.MediaIngestTool || req.Tool == tools.MediaSearchTool {
		blobDir = p.mediaDir
	}
	if _, err := p.store.SaveResult(req.Tool, res.ArtifactID, res.Summary, res.ToolExecuteResult, blobDir); err != nil {
		logger.Error("failed to persist tool result",
			"tool", req.Tool, "artifact_id", res.ArtifactID, "error", err)
	}
	return res, nil
}

// AgentUpdate renders a tool result as the structured update handed back to
// the agent graph. The history tool's raw result is passed through; other
// tools expose only the summary.
func AgentUpdate(req *tools.Request, res *tools.Result) map[string]any {
	summary := map[string]any{"node_summary": res.Summary}
	if req.Tool == tools.HistoryTool {
		summary["tool_execute_result"] = res.ToolExecuteResult
	}
	return map[string]any{
		"messages": []any{
			map[string]any{
				"content": map[string]any{
					"summary":  summary,
					"is_error": res.IsError,
				},
				"artifact_id": res.ArtifactID,
			},
		},
		"status": "done",
	}
}
