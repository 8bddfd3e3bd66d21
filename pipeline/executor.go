package pipeline

import (
	"context"
	"time"

	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/metrics"
	"github.com/openreel/reelkit/pipeline/interceptor"
	"github.com/openreel/reelkit/tools"
)

// Node and run statuses reported through the progress callback.
const (
	StatusRunning        = "running"
	StatusDone           = "done"
	StatusError          = "error"
	StatusSkipped        = "skipped"
	StatusCancelled      = "cancelled"
	StatusWaitingConfirm = "waiting_confirm"
)

// ProgressFunc receives one progress event per node state change. progress
// is in [0,1] over the whole plan.
type ProgressFunc func(nodeID, status string, progress float64, message string)

// ConfirmFunc asks the user to confirm or adjust a node's params. The
// executor bounds the wait; errors and timeouts fall back to the template
// params.
type ConfirmFunc func(ctx context.Context, nodeID string, params map[string]any, timeout time.Duration) (map[string]any, error)

// NodeOutcome records how one node finished.
type NodeOutcome struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResult is the terminal state of a pipeline run.
type RunResult struct {
	Status     string                 `json:"status"`
	FailedNode string                 `json:"failed_node,omitempty"`
	Results    map[string]NodeOutcome `json:"results"`
}

// Executor walks the registry's node order according to a template, driving
// each node through the interceptor chain.
type Executor struct {
	registry  *tools.Registry
	store     *artifact.Store
	invoke    interceptor.Next
	sessionID string
	lang      string
}

// NewExecutor builds an executor for one session.
func NewExecutor(registry *tools.Registry, store *artifact.Store, invoke interceptor.Next, sessionID, lang string) *Executor {
	return &Executor{
		registry:  registry,
		store:     store,
		invoke:    invoke,
		sessionID: sessionID,
		lang:      lang,
	}
}

// Run executes the template. Cancelling ctx between nodes ends the run with
// StatusCancelled; mandatory-node failures end it with StatusError and the
// failed node named. onProgress and onConfirm may be nil.
func (e *Executor) Run(ctx context.Context, tpl *Template, onProgress ProgressFunc, onConfirm ConfirmFunc) *RunResult {
	plan := e.buildPlan(tpl)
	total := len(plan)
	results := map[string]NodeOutcome{}
	emit := func(nodeID, status string, progress float64, message string) {
		if onProgress != nil {
			onProgress(nodeID, status, progress, message)
		}
	}

	logger.Info("pipeline starting",
		"session_id", e.sessionID, "template", tpl.Name, "auto_mode", tpl.AutoMode, "nodes", total)

	for idx, nodeCfg := range plan {
		nodeID := nodeCfg.NodeID

		if ctx.Err() != nil {
			logger.Info("pipeline cancelled", "session_id", e.sessionID, "node_id", nodeID)
			emit(nodeID, StatusCancelled, float64(idx)/float64(total), "cancelled by user")
			return &RunResult{Status: StatusCancelled, Results: results}
		}

		if nodeCfg.Mode == ModeSkip {
			emit(nodeID, StatusSkipped, float64(idx+1)/float64(total), "skipped")
			results[nodeID] = NodeOutcome{Status: StatusSkipped}
			continue
		}

		params := cloneParams(nodeCfg.Params)
		if tpl.AutoMode == SemiAuto && nodeCfg.ConfirmRequired && onConfirm != nil {
			timeout := time.Duration(tpl.SemiAutoTimeoutSec) * time.Second
			emit(nodeID, StatusWaitingConfirm, float64(idx)/float64(total),
				"awaiting confirmation")
			params = e.confirmOrTimeout(ctx, nodeID, params, timeout, onConfirm)
		}

		emit(nodeID, StatusRunning, float64(idx)/float64(total), "running "+nodeID)
		logger.NodeStart(e.sessionID, nodeID, "")

		start := time.Now()
		res, err := e.executeNode(ctx, nodeID, nodeCfg.Mode, params)
		switch {
		case err != nil:
			metrics.RecordNode(nodeID, StatusError, time.Since(start))
			logger.NodeDone(e.sessionID, nodeID, StatusError, "error", err)
			results[nodeID] = NodeOutcome{Status: StatusError, Error: err.Error()}
			emit(nodeID, StatusError, float64(idx+1)/float64(total), err.Error())
			if e.isMandatory(nodeID) {
				return &RunResult{Status: StatusError, FailedNode: nodeID, Results: results}
			}
		case res.IsError:
			metrics.RecordNode(nodeID, StatusError, time.Since(start))
			logger.NodeDone(e.sessionID, nodeID, StatusError, "summary", res.Summary)
			results[nodeID] = NodeOutcome{Status: StatusDone, Summary: res.Summary, Error: res.Summary}
			emit(nodeID, StatusError, float64(idx+1)/float64(total), res.Summary)
			// Tool-level errors only abort the final assembly stages.
			if nodeID == "plan_timeline" || nodeID == "render_video" {
				return &RunResult{Status: StatusError, FailedNode: nodeID, Results: results}
			}
		default:
			metrics.RecordNode(nodeID, StatusDone, time.Since(start))
			logger.NodeDone(e.sessionID, nodeID, StatusDone)
			results[nodeID] = NodeOutcome{Status: StatusDone, Summary: res.Summary}
			message := res.Summary
			if message == "" {
				message = "done"
			}
			emit(nodeID, StatusDone, float64(idx+1)/float64(total), message)
		}
	}

	logger.Info("pipeline completed", "session_id", e.sessionID, "template", tpl.Name)
	return &RunResult{Status: StatusDone, Results: results}
}

// buildPlan orders the template's node configs along the registry order.
// Nodes the template omits default to auto when mandatory, skip otherwise.
func (e *Executor) buildPlan(tpl *Template) []NodeConfig {
	configured := map[string]NodeConfig{}
	for _, nc := range tpl.Nodes {
		configured[nc.NodeID] = nc
	}

	var plan []NodeConfig
	for _, nodeID := range e.registry.Order() {
		if nc, ok := configured[nodeID]; ok {
			plan = append(plan, nc)
			continue
		}
		mode := ModeSkip
		if e.isMandatory(nodeID) {
			mode = ModeAuto
		}
		plan = append(plan, NodeConfig{NodeID: nodeID, Mode: mode})
	}
	return plan
}

func (e *Executor) isMandatory(nodeID string) bool {
	d, err := e.registry.Get(nodeID)
	return err == nil && d.Mandatory
}

func (e *Executor) executeNode(ctx context.Context, nodeID, mode string, params map[string]any) (*tools.Result, error) {
	req := &tools.Request{
		SessionID:  e.sessionID,
		Tool:       nodeID,
		ArtifactID: e.store.GenerateArtifactID(nodeID),
		Mode:       mode,
		Lang:       e.lang,
		Args:       params,
	}
	return e.invoke(ctx, req)
}

// confirmOrTimeout waits for the user's confirmation up to timeout; any
// failure keeps the template params.
func (e *Executor) confirmOrTimeout(ctx context.Context, nodeID string, params map[string]any, timeout time.Duration, onConfirm ConfirmFunc) map[string]any {
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	confirmed, err := onConfirm(confirmCtx, nodeID, params, timeout)
	if err != nil {
		logger.Info("confirmation timed out, using template params",
			"session_id", e.sessionID, "node_id", nodeID, "timeout", timeout)
		return params
	}
	if confirmed == nil {
		return params
	}
	logger.Info("node confirmed", "session_id", e.sessionID, "node_id", nodeID)
	return confirmed
}

func cloneParams(params map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range params {
		out[k] = v
	}
	return out
}
