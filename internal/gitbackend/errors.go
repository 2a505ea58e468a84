package gitbackend

import "fmt"

// Kind is one of the error kinds from spec §7. The core and its callers use
// errors.As to recover a *Error and switch on Kind rather than matching
// error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindRepositoryNotFound
	KindInvalidRefName
	KindRefNotResolvable
	KindDirtyWorkingTree
	KindInProgressGitOperation
	KindCheckoutFailed
	KindHashingFailed
	KindStateCorrupt
	KindSchemaVersionMismatch
	KindCancelled
	KindConcurrentModification
)

// String returns the error kind's name, as used in log fields and tests.
func (k Kind) String() string {
	switch k {
	case KindRepositoryNotFound:
		return "RepositoryNotFound"
	case KindInvalidRefName:
		return "InvalidRefName"
	case KindRefNotResolvable:
		return "RefNotResolvable"
	case KindDirtyWorkingTree:
		return "DirtyWorkingTree"
	case KindInProgressGitOperation:
		return "InProgressGitOperation"
	case KindCheckoutFailed:
		return "CheckoutFailed"
	case KindHashingFailed:
		return "HashingFailed"
	case KindStateCorrupt:
		return "StateCorrupt"
	case KindSchemaVersionMismatch:
		return "SchemaVersionMismatch"
	case KindCancelled:
		return "Cancelled"
	case KindConcurrentModification:
		return "ConcurrentModification"
	default:
		return "Unknown"
	}
}

// Error carries a Kind plus the context (repo, operation, ref) the core
// enriches errors with as they traverse C6/C7 (spec §7 Propagation).
type Error struct {
	Kind    Kind
	Repo    string
	Op      string
	Ref     string
	Path    string // set by HashingFailed for the offending path
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Repo != "" {
		msg = fmt.Sprintf("%s [repo=%s]", msg, e.Repo)
	}
	if e.Ref != "" {
		msg = fmt.Sprintf("%s [ref=%s]", msg, e.Ref)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s [path=%s]", msg, e.Path)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, &gitbackend.Error{Kind: gitbackend.KindDirtyWorkingTree})
// matches by kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error for the given kind, op, and repo, optionally
// wrapping a cause.
func New(kind Kind, op, repo string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Repo: repo, Wrapped: cause}
}

// WithRef returns a copy of e with Ref set, used when enriching an error as
// it propagates up through components that know which ref was involved.
func (e *Error) WithRef(ref string) *Error {
	cp := *e
	cp.Ref = ref
	return &cp
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}
