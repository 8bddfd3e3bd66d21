package tools

import (
	"context"
	"fmt"

	"github.com/openreel/reelkit/artifact"
)

// ReadNodeHistory returns the handler for the read_node_history tool: it
// loads any prior artifact by id and hands the stored envelope back to the
// agent verbatim.
func ReadNodeHistory(store *artifact.Store) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		artifactID := req.ArtifactID
		if artifactID == "" {
			artifactID = store.GenerateArtifactID(HistoryTool)
		}

		queryID, _ := req.Args["query_artifact_id"].(string)
		meta, env, err := store.LoadResult(queryID)
		if err != nil {
			return &Result{
				ArtifactID: artifactID,
				Summary:    fmt.Sprintf("history read failed: %s: %v", queryID, err),
				IsError:    true,
			}, nil
		}

		return &Result{
			ArtifactID: artifactID,
			ToolExecuteResult: map[string]any{
				"history": map[string]any{
					"meta":      meta,
					"node_data": env.Payload,
				},
			},
			Summary: "History information retrieved successfully",
		}, nil
	}
}
