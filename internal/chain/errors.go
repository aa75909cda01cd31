package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureMismatch is matched by VerifyErrors from signature checks.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrHashMismatch is matched by VerifyErrors from hash checks.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrLinkMismatch is matched by VerifyErrors from linkage checks.
	ErrLinkMismatch = errors.New("link mismatch")
)

// VerifyKind identifies which check a block failed.
type VerifyKind int

const (
	SignatureMismatch VerifyKind = iota + 1
	HashMismatch
	LinkMismatch
)

func (k VerifyKind) String() string {
	switch k {
	case SignatureMismatch:
		return "signature"
	case HashMismatch:
		return "hash"
	case LinkMismatch:
		return "link"
	default:
		return fmt.Sprintf("VerifyKind(%d)", int(k))
	}
}

// VerifyError reports a block that failed verification.
// Metadata is the block's canonical JSON so the block can be located.
type VerifyError struct {
	Kind     VerifyKind
	ID       int32
	Metadata string
	// Cause is the underlying error, e.g. the last key's verification failure.
	Cause error
}

func (e *VerifyError) Error() string {
	switch e.Kind {
	case SignatureMismatch:
		return fmt.Sprintf("can't validate signature of block %s", e.Metadata)
	case HashMismatch:
		return fmt.Sprintf("can't validate hash of block %s", e.Metadata)
	case LinkMismatch:
		if e.Cause != nil {
			return fmt.Sprintf("broken chain at block %d: %v", e.ID, e.Cause)
		}
		return fmt.Sprintf("broken chain at block %d", e.ID)
	default:
		return fmt.Sprintf("can't verify block %s", e.Metadata)
	}
}

// Is makes errors.Is(err, ErrHashMismatch) and friends work.
func (e *VerifyError) Is(target error) bool {
	switch target {
	case ErrSignatureMismatch:
		return e.Kind == SignatureMismatch
	case ErrHashMismatch:
		return e.Kind == HashMismatch
	case ErrLinkMismatch:
		return e.Kind == LinkMismatch
	}
	return false
}

func (e *VerifyError) Unwrap() error {
	return e.Cause
}
