package transport

// Extensions is a typed property bag carried by a Request or Response.
//
// Entries are keyed by their dynamic type, so each type holds at most one
// value. Extensions is not safe for concurrent mutation; a request belongs to
// exactly one attempt at a time.
type Extensions struct {
	m map[any]any
}

type extKey[T any] struct{}

// SetExtension stores v under its type, replacing any previous value of that type.
func SetExtension[T any](e *Extensions, v T) {
	if e == nil {
		return
	}
	if e.m == nil {
		e.m = make(map[any]any)
	}
	e.m[extKey[T]{}] = v
}

// ExtensionValue returns the value of type T stored in e, if any.
func ExtensionValue[T any](e *Extensions) (T, bool) {
	var zero T
	if e == nil || e.m == nil {
		return zero, false
	}
	v, ok := e.m[extKey[T]{}].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// RemoveExtension deletes the value of type T, if present.
func RemoveExtension[T any](e *Extensions) {
	if e == nil || e.m == nil {
		return
	}
	delete(e.m, extKey[T]{})
}

// Len returns the number of stored values.
func (e *Extensions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.m)
}

// Clone returns a shallow copy of e.
func (e *Extensions) Clone() Extensions {
	if e == nil || len(e.m) == 0 {
		return Extensions{}
	}
	m := make(map[any]any, len(e.m))
	for k, v := range e.m {
		m[k] = v
	}
	return Extensions{m: m}
}

// AttemptCount is the 1-based attempt index of the request being sent.
// The client stores it in the request Extensions before every send.
type AttemptCount int

// BodyLimit is the response body limit of the operation being sent. Layers
// that buffer the response read it so they honor the operation's limit.
type BodyLimit int64

// RequestID identifies one inbound server call in logs.
type RequestID string
