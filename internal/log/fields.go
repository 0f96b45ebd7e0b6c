package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldSubcomponent = "subcomponent"
	FieldRequestID    = "request_id"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldJobID        = "job_id"
	FieldWindowFrom   = "window_from"
	FieldWindowTo     = "window_to"
	FieldIndexedFrom  = "indexed_from"
	FieldOldestData   = "oldest_data"
	FieldScanned      = "scanned"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentIndex   = "index"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
)

// Operations defines standard operation names
const (
	OpBootstrap = "bootstrap"
	OpVerify    = "verify"
	OpBackfill  = "backfill"
	OpMerge     = "merge"
	OpReconcile = "reconcile"
	OpQuery     = "query"
	OpWrite     = "write"
	OpClear     = "clear"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	if op != "" {
		f[FieldOperation] = op
	}
	return f
}

// WithWindow adds the bounds of a backfill window
func (f LogFields) WithWindow(from, to string) LogFields {
	f[FieldWindowFrom] = from
	f[FieldWindowTo] = to
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a key-sorted slice for slog
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
