package contentlength

import (
	"bytes"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/owsgate/contentlength/headers"
	"github.com/owsgate/contentlength/ows"
	"github.com/roadrunner-server/errors"
)

// bufferState tracks the lifecycle of the in-memory body buffer. Transitions
// are one-directional and each happens at most once per Response instance:
// empty -> buffered on materialization, buffered -> drained on replay.
type bufferState uint8

const (
	stateEmpty bufferState = iota
	stateBuffered
	stateDrained
)

// Response wraps another ows.Response and forces a Content-Length header
// into its header set. The body is serialized once into memory to learn its
// exact length, replayed verbatim on the framework's write call, and the
// buffer is released immediately after. One instance serves exactly one
// request.
type Response struct {
	delegate ows.Response

	state   bufferState
	content []byte
	// length stays -1 until the buffer has been measured. It survives the
	// drained transition so header computation keeps working after replay.
	length int64
}

// NewResponse wraps delegate. The wrapper reports the delegate's binding and
// output formats so type-based dispatch treats the two interchangeably.
func NewResponse(delegate ows.Response) *Response {
	return &Response{
		delegate: delegate,
		length:   -1,
	}
}

// SetContentLength buffers the serialized result so its length can be
// emitted as a Content-Length header. It reports true when the header will
// be set, false when any precondition fails: a missing argument, a delegate
// that cannot handle the operation, a missing transport response, or a
// Content-Length already present at the transport level (an upstream value
// is never overwritten). Calling it again after content has been buffered
// is a no-op returning true.
//
// Buffering holds the whole body in memory for the rest of the request, the
// price of a deterministic length for responses that stream without knowing
// their size.
func (r *Response) SetContentLength(req *ows.Request, operation *ows.Operation, result any, delegate ows.Response) (bool, error) {
	if req == nil || operation == nil || result == nil || delegate == nil {
		return false, nil
	}
	if !delegate.CanHandle(operation) {
		return false, nil
	}

	w := req.HTTPResponse
	if w == nil || w.Header().Get(headers.ContentLength) != "" {
		return false, nil
	}

	if r.state != stateEmpty {
		return true, nil
	}

	if err := r.materialize(operation, result, delegate); err != nil {
		return false, err
	}

	return true, nil
}

// materialize serializes the result into a fresh buffer and records its
// length. Only ever entered from the empty state.
func (r *Response) materialize(operation *ows.Operation, result any, delegate ows.Response) error {
	const op = errors.Op("content_length_materialize")

	buf := new(bytes.Buffer)
	if err := delegate.Write(result, buf, operation); err != nil {
		return errors.E(op, errors.Encode, err)
	}

	r.content = buf.Bytes()
	r.length = int64(len(r.content))
	r.state = stateBuffered

	return nil
}

// Write emits the body. With nothing buffered it delegates, producing output
// identical to the unwrapped path. With content buffered it replays the
// bytes verbatim and releases them; the delegate's serialization is not run
// a second time. A buffered wrapper whose delegate cannot handle the
// operation writes nothing rather than risk a double serialization.
func (r *Response) Write(value any, out io.Writer, operation *ows.Operation) error {
	if r.state != stateBuffered {
		return r.delegate.Write(value, out, operation)
	}

	if !r.delegate.CanHandle(operation) {
		return nil
	}

	const op = errors.Op("content_length_replay")

	if _, err := out.Write(r.content); err != nil {
		return errors.E(op, err)
	}
	if f, ok := out.(http.Flusher); ok {
		f.Flush()
	}

	// release the buffer; length stays for later header computation
	r.content = nil
	r.state = stateDrained

	return nil
}

// Headers returns the delegate's header set with a Content-Length pair
// appended once the length is known. The delegate's set is fetched fresh on
// every call and never mutated: injection copies it. A Content-Length entry
// already present in the set, whatever its casing, wins over the measured
// value. The transport-level check in SetContentLength and this one can see
// different header sets in the host framework, so both are kept.
func (r *Response) Headers(value any, operation *ows.Operation) ([]ows.Header, error) {
	hdrs, err := r.delegate.Headers(value, operation)
	if err != nil || r.length < 0 {
		return hdrs, err
	}

	for i := range hdrs {
		if strings.EqualFold(hdrs[i].Key, headers.ContentLength) {
			return hdrs, nil
		}
	}

	out := make([]ows.Header, len(hdrs), len(hdrs)+1)
	copy(out, hdrs)

	return append(out, ows.Header{
		Key:   headers.ContentLength,
		Value: strconv.FormatInt(r.length, 10),
	}), nil
}

func (r *Response) Binding() reflect.Type {
	return r.delegate.Binding()
}

func (r *Response) OutputFormats() []string {
	return r.delegate.OutputFormats()
}

func (r *Response) CanHandle(operation *ows.Operation) bool {
	return r.delegate.CanHandle(operation)
}

func (r *Response) MimeType(value any, operation *ows.Operation) (string, error) {
	return r.delegate.MimeType(value, operation)
}

func (r *Response) PreferredDisposition(value any, operation *ows.Operation) string {
	return r.delegate.PreferredDisposition(value, operation)
}

func (r *Response) AttachmentFileName(value any, operation *ows.Operation) string {
	return r.delegate.AttachmentFileName(value, operation)
}
