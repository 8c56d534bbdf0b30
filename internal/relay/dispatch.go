package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/tastecall/internal/protocol"
	"github.com/ent0n29/tastecall/internal/tools"
)

// Dispatch runs one model-issued function call and hands its output back to
// the model as a function_call_output followed by response.create. Handler
// failures become an error payload for the model; only an unregistered
// function name is returned as an error, and then no output is sent.
func (r *Relay) Dispatch(ctx context.Context, key string, call protocol.FunctionCall) error {
	ec := tools.NewEntityContext()
	if s, ok := r.registry.Get(key); ok {
		ec = s.Entities()
	}

	var output, outcome string
	var elapsed time.Duration
	args, err := parseArguments(call.Arguments)
	if err != nil {
		output = errorPayload(call.Name, err)
		outcome = "bad_arguments"
	} else {
		fn, ok := r.table.Lookup(call.Name)
		if !ok {
			r.metrics.FunctionCalls.WithLabelValues("unknown", "unknown_function").Inc()
			return fmt.Errorf("%w: %q", tools.ErrUnknownFunction, call.Name)
		}

		started := time.Now()
		result, herr := invoke(ctx, fn, args, ec)
		elapsed = time.Since(started)
		if elapsed > r.cfg.SlowFunctionThreshold {
			r.metrics.SlowFunctionCalls.WithLabelValues(call.Name).Inc()
			log.Printf("relay: slow function %s for %s took %s", call.Name, key, elapsed.Round(time.Millisecond))
		}
		if herr != nil {
			output = errorPayload(call.Name, herr)
			outcome = "error"
		} else {
			output = result
			outcome = "ok"
		}
	}
	r.metrics.ObserveFunctionCall(call.Name, outcome, elapsed)
	if outcome != "ok" {
		log.Printf("relay: function %s for %s failed: %s", call.Name, key, output)
	}

	s, ok := r.registry.Get(key)
	if !ok {
		return nil
	}
	r.sendModel(s, protocol.NewFunctionOutput(call.CallID, output), protocol.TypeConversationItemCreate)
	r.sendModel(s, protocol.NewResponseCreate(), protocol.TypeResponseCreate)
	return nil
}

func parseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func invoke(ctx context.Context, fn tools.Function, args map[string]any, ec *tools.EntityContext) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn.Handler(ctx, args, ec)
}

func errorPayload(name string, err error) string {
	b, _ := json.Marshal(map[string]string{
		"error":    err.Error(),
		"function": name,
	})
	return string(b)
}
