package interceptor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/media"
	"github.com/openreel/reelkit/tools"
)

// MaxDependencyDepth bounds recursive dependency production; exceeding it
// means a cycle in the node graph.
const MaxDependencyDepth = 10

// DependencyInjector prepares a tool request before execution: it mints the
// artifact id, inlines session media for the ingest tool, and resolves the
// node's declared dependency kinds from prior artifacts, recursively running
// producer nodes in default mode for kinds not yet available.
type DependencyInjector struct {
	registry *tools.Registry
	store    *artifact.Store
	mediaDir string

	// chain re-enters the full interceptor chain for recursive production.
	chain Next
}

// NewDependencyInjector returns an injector for one session.
func NewDependencyInjector(registry *tools.Registry, store *artifact.Store, mediaDir string) *DependencyInjector {
	return &DependencyInjector{registry: registry, store: store, mediaDir: mediaDir}
}

// SetChain wires the assembled chain back in for recursive invocations.
// Must be called once after Chain().
func (d *DependencyInjector) SetChain(chain Next) { d.chain = chain }

// Process implements Interceptor.
func (d *DependencyInjector) Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error) {
	if req.ArtifactID == "" {
		req.ArtifactID = d.store.GenerateArtifactID(req.Tool)
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	if req.Tool == tools.MediaIngestTool {
		if err := d.inlineSessionMedia(req); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}

	desc, err := d.registry.Get(req.Tool)
	if err != nil {
		// Non-pipeline tools (e.g. history reads) have no dependencies.
		return next(ctx, req)
	}

	for _, kind := range desc.RequiredKinds {
		if _, present := req.Args[kind]; present {
			continue
		}
		payload, ok := d.loadKind(kind)
		if !ok {
			payload, err = d.produceKind(ctx, req, kind)
			if err != nil {
				return nil, fmt.Errorf("tool %s: resolve dependency %q: %w", req.Tool, kind, err)
			}
		}
		req.Args[kind] = payload
	}
	for _, kind := range desc.OptionalKinds {
		if _, present := req.Args[kind]; present {
			continue
		}
		if payload, ok := d.loadKind(kind); ok {
			req.Args[kind] = payload
		}
	}

	return next(ctx, req)
}

// inlineSessionMedia lists the session media directory and attaches every
// file as an inline blob under inputs.inputs.
func (d *DependencyInjector) inlineSessionMedia(req *tools.Request) error {
	entries, err := os.ReadDir(d.mediaDir)
	if err != nil {
		return fmt.Errorf("read media dir: %w", err)
	}

	items := []any{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(d.mediaDir, e.Name())
		enc, err := artifact.EncodeFile(path)
		if err != nil {
			logger.Warn("skipping unreadable media file", "path", path, "error", err)
			continue
		}
		items = append(items, map[string]any{
			"path":   path,
			"kind":   media.DetectKind(e.Name()),
			"base64": enc.Base64,
			"md5":    enc.MD5,
		})
	}
	req.Args["inputs"] = map[string]any{"inputs": items}
	return nil
}

// loadKind returns the payload of the newest artifact produced for kind,
// with inline blobs re-attached from disk.
func (d *DependencyInjector) loadKind(kind string) (map[string]any, bool) {
	for _, producer := range d.registry.Producers(kind) {
		meta, err := d.store.LatestMeta(producer.Name)
		if err != nil {
			continue
		}
		_, env, err := d.store.LoadResult(meta.ArtifactID)
		if err != nil {
			logger.Warn("failed to load dependency artifact",
				"artifact_id", meta.ArtifactID, "kind", kind, "error", err)
			continue
		}
		reattachBlobs(env.Payload)
		return env.Payload, true
	}
	return nil, false
}

// produceKind runs producer candidates in registry order, in default mode,
// until one yields a loadable artifact.
func (d *DependencyInjector) produceKind(ctx context.Context, req *tools.Request, kind string) (map[string]any, error) {
	if d.chain == nil {
		return nil, fmt.Errorf("no chain wired for recursive production")
	}
	depth := depthFrom(ctx) + 1
	if depth > MaxDependencyDepth {
		return nil, fmt.Errorf("dependency depth %d exceeded (cycle?)", MaxDependencyDepth)
	}
	ctx = withDepth(ctx, depth)

	var lastErr error
	for _, candidate := range d.registry.Producers(kind) {
		sub := &tools.Request{
			SessionID: req.SessionID,
			Tool:      candidate.Name,
			Mode:      tools.ModeDefault,
			Lang:      req.Lang,
			Args:      map[string]any{},
		}
		logger.Debug("producing missing dependency",
			"kind", kind, "producer", candidate.Name, "depth", depth)
		res, err := d.chain(ctx, sub)
		switch {
		case err != nil:
			lastErr = err
		case res != nil && res.IsError:
			lastErr = fmt.Errorf("producer %s failed: %s", candidate.Name, res.Summary)
		default:
			if payload, ok := d.loadKind(kind); ok {
				return payload, nil
			}
			lastErr = fmt.Errorf("producer %s left no artifact", candidate.Name)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no producer registered")
	}
	return nil, lastErr
}

// reattachBlobs re-inlines media list items from their on-disk paths, the
// inverse of the persister's blob extraction.
func reattachBlobs(payload map[string]any) {
	for _, value := range payload {
		switch v := value.(type) {
		case []any:
			for _, raw := range v {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				path, _ := item["path"].(string)
				if path == "" {
					continue
				}
				if _, has := item["base64"]; has {
					continue
				}
				enc, err := artifact.EncodeFile(path)
				if err != nil {
					continue
				}
				item["base64"] = enc.Base64
				item["md5"] = enc.MD5
			}
		case map[string]any:
			reattachBlobs(v)
		}
	}
}
