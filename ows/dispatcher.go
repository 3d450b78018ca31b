package ows

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/owsgate/contentlength/headers"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// OperationHandler executes one resolved operation and returns its result.
// A nil result means the operation produced its output some other way and
// no response dispatch happens.
type OperationHandler func(req *Request, operation *Operation) (any, error)

// Dispatcher is a reference implementation of the request flow the host
// container runs: resolve service and operation from the query string,
// execute the handler, pick a Response for the result and stream it out,
// invoking every registered callback at each lifecycle point.
type Dispatcher struct {
	log *zap.Logger

	callbacks []DispatcherCallback
	responses []Response
	services  map[string]*Service
	handlers  map[string]OperationHandler
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		log:      log,
		services: make(map[string]*Service),
		handlers: make(map[string]OperationHandler),
	}
}

// Callback registers a lifecycle callback. Callbacks run in registration
// order at every lifecycle point.
func (d *Dispatcher) Callback(cb DispatcherCallback) {
	d.callbacks = append(d.callbacks, cb)
}

// Register adds a response capability to the pool the dispatcher resolves
// from. Responses are tried in registration order.
func (d *Dispatcher) Register(rsp Response) {
	d.responses = append(d.responses, rsp)
}

// Handle registers the handler for one operation of a service.
func (d *Dispatcher) Handle(service *Service, operation string, h OperationHandler) {
	d.services[strings.ToLower(service.ID)] = service
	d.handlers[operationKey(service.ID, operation)] = h
}

func operationKey(service, operation string) string {
	return strings.ToLower(service) + "." + strings.ToLower(operation)
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &Request{
		ID:           uuid.NewString(),
		HTTPRequest:  r,
		HTTPResponse: w,
	}

	for _, cb := range d.callbacks {
		if repl := cb.Init(req); repl != nil {
			req = repl
		}
	}

	defer func() {
		for _, cb := range d.callbacks {
			cb.Finished(req)
		}
	}()

	query := r.URL.Query()
	req.Service = strings.ToLower(query.Get("service"))
	req.Operation = strings.ToLower(query.Get("request"))

	service, ok := d.services[req.Service]
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}

	for _, cb := range d.callbacks {
		if repl := cb.ServiceDispatched(req, service); repl != nil {
			service = repl
		}
	}

	handler, ok := d.handlers[operationKey(req.Service, req.Operation)]
	if !ok {
		http.Error(w, "unknown operation", http.StatusBadRequest)
		return
	}

	operation := &Operation{ID: req.Operation, Service: service}
	for _, cb := range d.callbacks {
		if repl := cb.OperationDispatched(req, operation); repl != nil {
			operation = repl
		}
	}

	result, err := handler(req, operation)
	if err != nil {
		d.log.Error("operation failed",
			zap.String("request_id", req.ID),
			zap.String("operation", operation.ID),
			zap.Error(err))
		http.Error(w, "operation failed", http.StatusInternalServerError)
		return
	}

	if result == nil {
		return
	}

	for _, cb := range d.callbacks {
		if repl := cb.OperationExecuted(req, operation, result); repl != nil {
			result = repl
		}
	}

	if err := d.dispatchResponse(req, operation, result); err != nil {
		// headers may already be committed, so no error page here
		d.log.Error("response dispatch failed",
			zap.String("request_id", req.ID),
			zap.String("operation", operation.ID),
			zap.Error(err))
	}
}

// dispatchResponse resolves the response for the result, lets callbacks
// substitute it, then emits headers followed by the body.
func (d *Dispatcher) dispatchResponse(req *Request, operation *Operation, result any) error {
	const op = errors.Op("ows_dispatch_response")

	rsp := d.resolveResponse(operation, result)
	if rsp == nil {
		return errors.E(op, fmt.Sprintf("no response for result type %T", result))
	}

	for _, cb := range d.callbacks {
		if repl := cb.ResponseDispatched(req, operation, result, rsp); repl != nil {
			rsp = repl
		}
	}

	w := req.HTTPResponse

	mime, err := rsp.MimeType(result, operation)
	if err != nil {
		return errors.E(op, err)
	}
	if mime != "" {
		w.Header().Set(headers.ContentType, mime)
	}

	hdrs, err := rsp.Headers(result, operation)
	if err != nil {
		return errors.E(op, err)
	}
	for i := range hdrs {
		w.Header().Add(hdrs[i].Key, hdrs[i].Value)
	}

	if disposition := rsp.PreferredDisposition(result, operation); disposition != "" {
		if name := rsp.AttachmentFileName(result, operation); name != "" {
			disposition = fmt.Sprintf("%s; filename=%q", disposition, name)
		}
		w.Header().Set(headers.ContentDisposition, disposition)
	}

	if err := rsp.Write(result, w, operation); err != nil {
		return errors.E(op, err)
	}

	return nil
}

func (d *Dispatcher) resolveResponse(operation *Operation, result any) Response {
	t := reflect.TypeOf(result)

	for _, rsp := range d.responses {
		binding := rsp.Binding()
		if binding == nil || !t.AssignableTo(binding) {
			continue
		}
		if rsp.CanHandle(operation) {
			return rsp
		}
	}

	return nil
}
