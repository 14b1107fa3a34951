package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harun/lainbot/internal/tracing"
	"github.com/harun/lainbot/pkg/catalog"
	"github.com/harun/lainbot/pkg/provider"
	"github.com/harun/lainbot/pkg/session"
)

const invalidToolNameText = "Error: Invalid tool name format. Expected format: server__tool_name"

// executeTools runs the calls of one model response. Calls run
// concurrently up to the configured limit; the results keep the order of
// the calls. A failing call never aborts the others.
func (a *Agent) executeTools(ctx context.Context, calls []ToolCall) []session.ToolInvocation {
	out := make([]session.ToolInvocation, len(calls))

	var g errgroup.Group
	g.SetLimit(a.cfg.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = a.invokeTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (a *Agent) invokeTool(ctx context.Context, call ToolCall) session.ToolInvocation {
	inv := session.ToolInvocation{ID: call.ID, Tool: call.Name, Arguments: call.Arguments}
	logger := tracing.LoggerFromContext(ctx, a.logger).With().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Logger()

	if _, _, err := catalog.SplitID(call.Name); err != nil {
		logger.Warn().Msg("Model requested a malformed tool name")
		inv.Error = invalidToolNameText
		return inv
	}
	if call.ArgumentsErr != nil {
		logger.Warn().Err(call.ArgumentsErr).Msg("Model sent unparsable tool arguments")
		inv.Error = fmt.Sprintf("Error executing %s: %v", call.Name, call.ArgumentsErr)
		return inv
	}

	start := time.Now()
	result, err := a.tools.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		var toolErr *provider.ToolInvocationError
		if errors.As(err, &toolErr) && toolErr.Payload != "" {
			inv.Error = fmt.Sprintf("Error executing %s: %s", call.Name, toolErr.Payload)
		} else {
			inv.Error = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		}
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Tool call failed")
		return inv
	}

	logger.Debug().Dur("duration", time.Since(start)).Int("bytes", len(result)).Msg("Tool call completed")
	inv.Result = result
	return inv
}
