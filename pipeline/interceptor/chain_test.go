package interceptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/reelkit/tools"
)

type taggingInterceptor struct {
	tag string
}

func (t *taggingInterceptor) Process(ctx context.Context, req *tools.Request, next Next) (*tools.Result, error) {
	order, _ := req.Args["order"].([]any)
	req.Args["order"] = append(order, t.tag)
	return next(ctx, req)
}

func TestChainOrder(t *testing.T) {
	terminal := func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		return &tools.Result{Summary: "ok"}, nil
	}
	chain := Chain(terminal, &taggingInterceptor{"outer"}, &taggingInterceptor{"inner"})

	req := &tools.Request{Tool: "x", Args: map[string]any{}}
	res, err := chain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Summary)
	assert.Equal(t, []any{"outer", "inner"}, req.Args["order"])
}

func TestDepthTracking(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, depthFrom(ctx))
	ctx = withDepth(ctx, 3)
	assert.Equal(t, 3, depthFrom(ctx))
}
