package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/message"
)

// request is one outbound message before it is wrapped in an envelope.
type request struct {
	to       message.Agent
	body     message.Body
	priority message.Priority
}

// fanOut dispatches reqs concurrently and returns their results in order.
func (o *Orchestrator) fanOut(ctx context.Context, sessionID string, reqs []request) []DispatchResult {
	results := make([]DispatchResult, len(reqs))
	if len(reqs) == 1 {
		results[0] = o.dispatch(ctx, sessionID, reqs[0])
		return results
	}
	var wg conc.WaitGroup
	for i, req := range reqs {
		wg.Go(func() {
			results[i] = o.dispatch(ctx, sessionID, req)
		})
	}
	wg.Wait()
	return results
}

// dispatch sends one message through the breaker for (agent, kind). A
// rejected or failed call is diverted to the fallback endpoint.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, req request) DispatchResult {
	kind := req.body.Kind()
	res := DispatchResult{Agent: req.to, Kind: kind}

	ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch", trace.WithAttributes(
		attribute.String("agent", string(req.to)),
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	opts := []message.Option{message.WithTimestamp(o.now())}
	if req.priority.Valid() {
		opts = append(opts, message.WithPriority(req.priority))
	}
	msg := message.New(message.Orchestrator, req.to, sessionID, req.body, opts...)

	b := o.breakers.Get(breaker.Key{Collaborator: string(req.to), Operation: string(kind)})
	// The fallback runs on the caller's goroutine, so writing res is safe.
	_, err := breaker.Do(ctx, b, o.dispatchTimeout,
		func(ctx context.Context) (struct{}, error) {
			ep, ok := o.endpoints.Endpoint(req.to)
			if !ok {
				return struct{}{}, fmt.Errorf("%w: %s", message.ErrCollaboratorUnavailable, req.to)
			}
			return struct{}{}, ep.Send(ctx, msg)
		},
		func(ctx context.Context, cause error) (struct{}, error) {
			if o.fallback == nil {
				return struct{}{}, breaker.ErrNoFallback
			}
			if err := o.fallback.Send(ctx, msg); err != nil {
				return struct{}{}, err
			}
			res.Fallback = true
			o.logger.Warn(ctx, "dispatch diverted to fallback",
				zap.String("agent", string(req.to)),
				zap.String("kind", string(kind)),
				zap.Error(cause))
			return struct{}{}, nil
		},
	)
	if err != nil {
		res.Err = err
		span.RecordError(err)
		level := o.logger.Warn
		if !errors.Is(err, breaker.ErrOpen) {
			level = o.logger.Error
		}
		level(ctx, "dispatch failed",
			zap.String("agent", string(req.to)),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	span.SetAttributes(attribute.Bool("fallback", res.Fallback))
	o.metrics.dispatch(res)
	return res
}
