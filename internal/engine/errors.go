package engine

import "errors"

// Kind classifies engine failures into the buckets the callers care about.
// Every method that previously would string-match exception messages goes
// through KindOf instead.
type Kind int

const (
	// KindOther is any unexpected engine failure.
	KindOther Kind = iota
	// KindConflict is a version conflict, e.g. a concurrent delete raced a write.
	KindConflict
	// KindBadRequest is a malformed query or an incompatible mapping change.
	KindBadRequest
	// KindNotFound is a missing index, alias, or document.
	KindNotFound
	// KindTooComplex is a query the cluster refused to determinize.
	KindTooComplex
)

// Op constants name cluster operations for error context.
const (
	OpPing          = "ping"
	OpIndexExists   = "indices.exists"
	OpCreateIndex   = "indices.create"
	OpPutMapping    = "indices.put_mapping"
	OpDeleteIndex   = "indices.delete"
	OpReindex       = "reindex"
	OpGetAlias      = "indices.get_alias"
	OpDeleteAlias   = "indices.delete_alias"
	OpAddAlias      = "indices.put_alias"
	OpBulk          = "bulk"
	OpSearch        = "search"
	OpCount         = "count"
	OpScroll        = "scroll"
	OpClearScroll   = "clear_scroll"
	OpDeleteByQuery = "delete_by_query"
)

// Error wraps an underlying cluster error with the operation name and kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an error chain. Unwrapped errors are KindOther.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindOther
}

// IsConflict reports whether err is a version-conflict-class error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsBadRequest reports whether err is a malformed-request-class error.
func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }

// IsNotFound reports whether err is a resource-absence-class error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTooComplex reports whether err is a too-complex-to-determinize-class error.
func IsTooComplex(err error) bool { return KindOf(err) == KindTooComplex }
