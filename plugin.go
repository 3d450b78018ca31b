// Package contentlength guarantees a Content-Length header on responses
// whose serializers stream without knowing their final size. It plugs into
// the dispatch flow as a lifecycle callback: after an operation has produced
// a result and a response has been chosen for it, the plugin substitutes a
// buffering wrapper that measures the body before the framework emits
// headers.
package contentlength

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/owsgate/contentlength/ows"
)

const name string = "content_length"

// Plugin implements ows.DispatcherCallback. Only ResponseDispatched does
// any work; the remaining lifecycle methods exist to satisfy the contract.
type Plugin struct {
	log *zap.Logger
}

func NewPlugin(log *zap.Logger) *Plugin {
	if log == nil {
		log = zap.NewNop()
	}

	p := new(Plugin)
	p.log = new(zap.Logger)
	*p.log = *log

	return p
}

func (p *Plugin) Name() string {
	return name
}

func (p *Plugin) Init(_ *ows.Request) *ows.Request {
	return nil
}

func (p *Plugin) ServiceDispatched(_ *ows.Request, _ *ows.Service) *ows.Service {
	return nil
}

func (p *Plugin) OperationDispatched(_ *ows.Request, _ *ows.Operation) *ows.Operation {
	return nil
}

func (p *Plugin) OperationExecuted(_ *ows.Request, _ *ows.Operation, _ any) any {
	return nil
}

// ResponseDispatched wraps the chosen response so the emitted headers carry
// a Content-Length. A non-nil return replaces the response for the rest of
// the request; nil keeps the original.
//
// The policy here is strictly fail-open: whatever goes wrong while deciding
// or buffering is logged once and the original response stays in place, so
// the worst case is a response without a Content-Length header, exactly as
// if this plugin were not installed. Errors during the final body write are
// not intercepted anywhere; they propagate the same way the unwrapped
// response's would.
func (p *Plugin) ResponseDispatched(req *ows.Request, operation *ows.Operation, result any, response ows.Response) (out ows.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("content length wrapping failed", zap.Any("recovered", rec))
			out = nil
		}
	}()

	if req != nil && req.HTTPRequest != nil {
		ctx := req.HTTPRequest.Context()
		tp := trace.SpanFromContext(ctx).TracerProvider()
		_, span := tp.Tracer(name).Start(ctx, "response_dispatched")
		defer span.End()

		defer func() {
			if wrapper, ok := out.(*Response); ok {
				span.SetAttributes(attribute.Int64("http.response_content_length", wrapper.length))
			}
		}()
	}

	wrapper := NewResponse(response)

	set, err := wrapper.SetContentLength(req, operation, result, response)
	if err != nil {
		p.log.Error("content length wrapping failed", zap.Error(err))
		return nil
	}
	if !set {
		return nil
	}

	return wrapper
}

func (p *Plugin) Finished(_ *ows.Request) {}
