package push

import "fmt"

// ResultKind tags the variant held by a MessageResult.
type ResultKind int

const (
	// ResultOK means the gateway accepted the notification.
	ResultOK ResultKind = iota
	// ResultBackoff means no stream could be started because the connection
	// is saturated. Retry later.
	ResultBackoff
	// ResultFatal means the gateway rejected the notification permanently.
	ResultFatal
	// ResultTemporary means the gateway is temporarily unable to accept it.
	ResultTemporary
	// ResultTransport means a local I/O or connection failure.
	ResultTransport
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultBackoff:
		return "backoff"
	case ResultFatal:
		return "fatal"
	case ResultTemporary:
		return "temporary"
	case ResultTransport:
		return "transport"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// MessageResult is the classified outcome of one send. Only the field that
// matches Kind is meaningful.
type MessageResult struct {
	Kind      ResultKind
	Fatal     FatalReason
	Temporary TemporaryReason
	// Err carries the transport failure for ResultTransport.
	Err error
}

func accepted() MessageResult { return MessageResult{Kind: ResultOK} }
func saturated() MessageResult { return MessageResult{Kind: ResultBackoff} }

func fatal(r FatalReason) MessageResult {
	return MessageResult{Kind: ResultFatal, Fatal: r}
}

func temporary(r TemporaryReason) MessageResult {
	return MessageResult{Kind: ResultTemporary, Temporary: r}
}

func transportFailure(err error) MessageResult {
	return MessageResult{Kind: ResultTransport, Err: err}
}

// OK reports whether the notification was accepted.
func (r MessageResult) OK() bool { return r.Kind == ResultOK }

// Retryable reports whether sending the same notification again may succeed.
func (r MessageResult) Retryable() bool {
	switch r.Kind {
	case ResultBackoff, ResultTemporary, ResultTransport:
		return true
	}
	return false
}

// Reason returns the gateway reason name for fatal and temporary results.
func (r MessageResult) Reason() string {
	switch r.Kind {
	case ResultFatal:
		return r.Fatal.String()
	case ResultTemporary:
		return r.Temporary.String()
	}
	return ""
}

func (r MessageResult) String() string {
	switch r.Kind {
	case ResultFatal, ResultTemporary:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Reason())
	case ResultTransport:
		return fmt.Sprintf("transport(%v)", r.Err)
	}
	return r.Kind.String()
}
