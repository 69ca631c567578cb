// Package stages implements the Stage contract of §4.1: a unit of the
// pipeline with forward/unwind_to semantics, committing in one transaction
// per call and reporting its outcome as a plain Result value rather than
// through an exception (§9, "Exceptions for control flow").
package stages

import (
	"context"
	"fmt"

	"github.com/gurukamath/silkworm/common"
)

// Status is the outcome of a Forward or UnwindTo call (§3, Stage.Result).
type Status int

const (
	StatusUnspecified Status = iota
	StatusDone
	StatusUnwindNeeded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "Done"
	case StatusUnwindNeeded:
		return "UnwindNeeded"
	case StatusError:
		return "Error"
	default:
		return "Unspecified"
	}
}

// Result is the outcome of advancing or rewinding a stage (§3). A stage
// never panics or returns a bare error from Forward/UnwindTo to signal a
// sync inconsistency — that is always StatusUnwindNeeded with the fields
// below populated; StatusError is reserved for fatal I/O or invariant
// violations the stage loop cannot recover from by rewinding.
type Result struct {
	Status      Status
	UnwindPoint common.BlockNum
	BadBlock    common.Hash
	Err         error
}

func (r Result) String() string {
	switch r.Status {
	case StatusUnwindNeeded:
		return fmt.Sprintf("UnwindNeeded{point=%d, bad=%s}", r.UnwindPoint, r.BadBlock)
	case StatusError:
		return fmt.Sprintf("Error{%v}", r.Err)
	default:
		return r.Status.String()
	}
}

// Done reports that no further progress is possible right now.
func Done() Result { return Result{Status: StatusDone} }

// Unwind builds the UnwindNeeded result a Forward call returns on
// detecting a downstream inconsistency (§4.1).
func Unwind(point common.BlockNum, badBlock common.Hash) Result {
	return Result{Status: StatusUnwindNeeded, UnwindPoint: point, BadBlock: badBlock}
}

// Error wraps a fatal error as a Result, for stages whose Forward/UnwindTo
// signature returns Result only (no separate error return), matching §9's
// "the same discipline should extend throughout the engine."
func Error(err error) Result { return Result{Status: StatusError, Err: err} }

// Stage is the abstract pipeline unit of §4.1.
type Stage interface {
	// ID names the stage for logging and for the stage loop's unwind index
	// bookkeeping.
	ID() string

	// Forward advances persisted state as far as current inputs allow. May
	// block on the header chain / body sequence's ready cursors. Returns
	// Done when no further progress is possible now; UnwindNeeded when a
	// downstream inconsistency is detected; Error on fatal I/O.
	Forward(ctx context.Context, firstSync bool) Result

	// UnwindTo atomically reverts all persisted side effects above point,
	// additionally blacklisting badBlock. Idempotent; a no-op when point is
	// at or above the stage's current head.
	UnwindTo(ctx context.Context, point common.BlockNum, badBlock common.Hash) Result
}
