// Package ows holds the dispatch contracts of the map server: the
// per-request context, the operation descriptors, the response capability
// interface and the lifecycle callback interface plugins implement. The host
// container owns discovery and registration of callbacks; this package only
// defines the types it dispatches through.
package ows

import (
	"io"
	"net/http"
	"reflect"
)

// Request is the per-request dispatch context. It is created by the
// dispatcher when a request arrives and handed to every callback; it is
// never shared across requests.
type Request struct {
	// ID identifies the request in logs and traces.
	ID string

	// Service and Operation are the resolved names from the query, e.g.
	// "wms" / "getcapabilities". Empty until the corresponding dispatch
	// phase has run.
	Service   string
	Operation string

	HTTPRequest *http.Request

	// HTTPResponse is the live transport response. Headers set on it are
	// committed once the body write begins.
	HTTPResponse http.ResponseWriter
}

// Service describes a resolved service implementation.
type Service struct {
	ID      string
	Version string
}

// Operation describes a resolved operation of a service.
type Operation struct {
	ID      string
	Service *Service
}

// Header is a single key/value pair of a response header set. A header set
// is an ordered []Header; a nil set means the response declares no headers.
type Header struct {
	Key   string
	Value string
}

// Response serializes an operation result and describes its content
// metadata. Implementations are registered with the dispatcher, which picks
// one per request by result binding and CanHandle; callbacks may substitute
// another Response for the remainder of the request.
type Response interface {
	// Binding reports the result type this response serializes.
	Binding() reflect.Type

	// OutputFormats reports the format names this response produces, used
	// for format negotiation. May be empty.
	OutputFormats() []string

	// CanHandle reports whether this response applies to the operation.
	CanHandle(operation *Operation) bool

	// MimeType reports the MIME type of the serialized value.
	MimeType(value any, operation *Operation) (string, error)

	// Headers reports the header set to emit for the value. The returned
	// set is recomputed on every call; nil means no headers.
	Headers(value any, operation *Operation) ([]Header, error)

	// Write serializes value to out. It is invoked exactly once per
	// request, after all headers have been emitted.
	Write(value any, out io.Writer, operation *Operation) error

	// PreferredDisposition reports the Content-Disposition type for the
	// value, e.g. "inline" or "attachment". Empty means unspecified.
	PreferredDisposition(value any, operation *Operation) string

	// AttachmentFileName reports the file name to advertise alongside the
	// disposition. Empty means unspecified.
	AttachmentFileName(value any, operation *Operation) string
}

// DispatcherCallback is invoked at fixed points of the request lifecycle.
// Every method may return a replacement for the artifact it receives; nil
// means "keep the current one". Implementations that only care about one
// phase return nil from the rest.
type DispatcherCallback interface {
	// Init is called as soon as the request context exists.
	Init(req *Request) *Request

	// ServiceDispatched is called once the service has been resolved.
	ServiceDispatched(req *Request, service *Service) *Service

	// OperationDispatched is called once the operation has been resolved.
	OperationDispatched(req *Request, operation *Operation) *Operation

	// OperationExecuted is called after the operation produced a result,
	// before a response is chosen for it.
	OperationExecuted(req *Request, operation *Operation, result any) any

	// ResponseDispatched is called after a response has been chosen for
	// the result and before any output is flushed. Only invoked when the
	// operation returned a value.
	ResponseDispatched(req *Request, operation *Operation, result any, response Response) Response

	// Finished is called after the response has been written, successfully
	// or not.
	Finished(req *Request)
}
