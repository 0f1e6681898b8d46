package master

import "log/slog"

// ResponseHandler receives the object headers of every accepted
// solicited Read response fragment for an association, in arrival order.
// Unsolicited fragments go to the UnsolicitedHandler instead. It is the caller's hook for turning raw fragments into
// domain state.
type ResponseHandler interface {
	HandleResponse(address EndpointAddress, header ResponseHeader, objects []byte)
}

// ResponseHandlerFunc adapts a function to a ResponseHandler.
type ResponseHandlerFunc func(address EndpointAddress, header ResponseHeader, objects []byte)

func (f ResponseHandlerFunc) HandleResponse(address EndpointAddress, header ResponseHeader, objects []byte) {
	f(address, header, objects)
}

// UnsolicitedHandler receives the decoded object headers of an accepted
// unsolicited response fragment and reports whether the association
// considers it valid. An invalid report suppresses the application
// confirmation that would otherwise follow a CON=1 fragment.
type UnsolicitedHandler interface {
	HandleUnsolicited(address EndpointAddress, header ResponseHeader, objects []byte) (valid bool)
}

// UnsolicitedHandlerFunc adapts a function to an UnsolicitedHandler.
type UnsolicitedHandlerFunc func(address EndpointAddress, header ResponseHeader, objects []byte) bool

func (f UnsolicitedHandlerFunc) HandleUnsolicited(address EndpointAddress, header ResponseHeader, objects []byte) bool {
	return f(address, header, objects)
}

// TaskCompletionHandler is notified when a task the caller enqueued
// finishes, successfully or not.
type TaskCompletionHandler interface {
	OnTaskSuccess(address EndpointAddress)
	OnTaskFailure(address EndpointAddress, err error)
}

// TaskCompletionFuncs adapts two functions to a TaskCompletionHandler.
// A nil field is treated as a no-op.
type TaskCompletionFuncs struct {
	Success func(address EndpointAddress)
	Failure func(address EndpointAddress, err error)
}

func (f TaskCompletionFuncs) OnTaskSuccess(address EndpointAddress) {
	if f.Success != nil {
		f.Success(address)
	}
}

func (f TaskCompletionFuncs) OnTaskFailure(address EndpointAddress, err error) {
	if f.Failure != nil {
		f.Failure(address, err)
	}
}

// safeResponseHandler wraps a ResponseHandler so a panicking callback
// cannot bring down the session loop; it is logged and swallowed instead
// (Open Question: handler panic isolation).
type safeResponseHandler struct {
	log  *slog.Logger
	next ResponseHandler
}

func newSafeResponseHandler(log *slog.Logger, next ResponseHandler) ResponseHandler {
	if next == nil {
		return nil
	}
	return &safeResponseHandler{log: log, next: next}
}

func (h *safeResponseHandler) HandleResponse(address EndpointAddress, header ResponseHeader, objects []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("response handler panicked", "association", address, "panic", r)
		}
	}()
	h.next.HandleResponse(address, header, objects)
}

// safeUnsolicitedHandler wraps an UnsolicitedHandler with the same panic
// isolation as safeResponseHandler. A panicking callback is treated as
// an invalid report, so the fragment that triggered it is not confirmed.
type safeUnsolicitedHandler struct {
	log  *slog.Logger
	next UnsolicitedHandler
}

func newSafeUnsolicitedHandler(log *slog.Logger, next UnsolicitedHandler) UnsolicitedHandler {
	if next == nil {
		return nil
	}
	return &safeUnsolicitedHandler{log: log, next: next}
}

func (h *safeUnsolicitedHandler) HandleUnsolicited(address EndpointAddress, header ResponseHeader, objects []byte) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("unsolicited handler panicked", "association", address, "panic", r)
			valid = false
		}
	}()
	return h.next.HandleUnsolicited(address, header, objects)
}

// safeTaskCompletionHandler wraps a TaskCompletionHandler with the same
// panic isolation as safeResponseHandler.
type safeTaskCompletionHandler struct {
	log  *slog.Logger
	next TaskCompletionHandler
}

func newSafeTaskCompletionHandler(log *slog.Logger, next TaskCompletionHandler) TaskCompletionHandler {
	if next == nil {
		return nil
	}
	return &safeTaskCompletionHandler{log: log, next: next}
}

func (h *safeTaskCompletionHandler) OnTaskSuccess(address EndpointAddress) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("task success handler panicked", "association", address, "panic", r)
		}
	}()
	h.next.OnTaskSuccess(address)
}

func (h *safeTaskCompletionHandler) OnTaskFailure(address EndpointAddress, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("task failure handler panicked", "association", address, "panic", r)
		}
	}()
	h.next.OnTaskFailure(address, err)
}
