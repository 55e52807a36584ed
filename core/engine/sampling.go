package engine

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/wricardo/mcp-training/userdirectory/core/sampling"
)

// RequestSampling asks the client to sample when it declared the capability
// and has a stream attached; otherwise the fallback provider answers.
func (e *Engine) RequestSampling(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	if e.State() == StateClosed {
		return nil, ErrClosed
	}
	if e.clientCanSample() {
		return e.sampleViaClient(ctx, request)
	}
	if e.sampler != nil {
		e.logger.Debug().Msg("sampling via fallback provider")
		return e.sampler.CreateMessage(ctx, request)
	}
	return nil, ErrSamplingUnavailable
}

func (e *Engine) clientCanSample() bool {
	return e.GetClientCapabilities().Sampling != nil && e.StreamAttached()
}

func (e *Engine) sampleViaClient(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	id := e.nextOutbound.Add(1)
	reply := make(chan Message, 1)

	e.pendingMu.Lock()
	e.pending[id] = reply
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}()

	req := mcp.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Params:  request.CreateMessageParams,
		Request: mcp.Request{Method: string(mcp.MethodSamplingCreateMessage)},
	}

	timer := time.NewTimer(e.samplingTimeout)
	defer timer.Stop()

	select {
	case e.outbound <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrSamplingTimeout
	}
	e.logger.Debug().Int64("request_id", id).Msg("sampling request sent to client")

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return nil, errors.Wrap(msg.Error, "client sampling")
		}
		return sampling.DecodeResult(msg.Result)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrSamplingTimeout
	}
}
