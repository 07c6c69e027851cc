package bot

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingArg is wrapped by DispatchErrors for hooks whose required
// arguments are absent.
var ErrMissingArg = errors.New("missing argument")

// ErrReadOnlyWiki is returned when writing a wiki page the bot only reads.
var ErrReadOnlyWiki = errors.New("wiki page is read-only")

// DispatchError is a hook invocation failure caught at the dispatch
// boundary. It is logged, never propagated to the watcher that fed the
// event.
type DispatchError struct {
	Code DispatchErrorCode
	// Hook identifies the Func, as in hook.Func.String.
	Hook    string
	Message string
	// Stack is set for panics.
	Stack string
	Err   error
}

// DispatchErrorCode categorizes dispatch errors.
type DispatchErrorCode string

const (
	// ErrCodeMissingArg indicates the call lacked a required argument.
	ErrCodeMissingArg DispatchErrorCode = "MISSING_ARG"

	// ErrCodePanic indicates the handler panicked.
	ErrCodePanic DispatchErrorCode = "PANIC"

	// ErrCodeHandler indicates the handler returned an error.
	ErrCodeHandler DispatchErrorCode = "HANDLER"
)

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (hook=%s): %v", e.Code, e.Message, e.Hook, e.Err)
	}
	return fmt.Sprintf("%s: %s (hook=%s)", e.Code, e.Message, e.Hook)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsPanic reports whether err is a recovered handler panic.
func IsPanic(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodePanic
	}
	return false
}

func newMissingArgError(hook string, missing []string) *DispatchError {
	return &DispatchError{
		Code:    ErrCodeMissingArg,
		Hook:    hook,
		Message: "requested " + strings.Join(missing, ", "),
		Err:     ErrMissingArg,
	}
}

func newPanicError(hook string, r any, stack []byte) *DispatchError {
	return &DispatchError{
		Code:    ErrCodePanic,
		Hook:    hook,
		Message: fmt.Sprint(r),
		Stack:   string(stack),
	}
}

func newHandlerError(hook string, err error) *DispatchError {
	return &DispatchError{
		Code:    ErrCodeHandler,
		Hook:    hook,
		Message: "handler failed",
		Err:     err,
	}
}
