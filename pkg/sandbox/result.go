package sandbox

// Result is the outcome of a sandbox operation: either a value or a
// human-readable failure message that can be handed back to the model.
type Result[T any] struct {
	value T
	err   string
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Err wraps a failure message.
func Err[T any](msg string) Result[T] {
	return Result[T]{err: msg}
}

// IsOk reports whether the operation succeeded.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the value and whether it is present.
func (r Result[T]) Value() (T, bool) { return r.value, r.ok }

// Error returns the failure message, or "" on success.
func (r Result[T]) Error() string { return r.err }

// Text renders the result for the model: the rendered value on success,
// the failure message otherwise.
func (r Result[T]) Text(render func(T) string) string {
	if !r.ok {
		return r.err
	}
	return render(r.value)
}
