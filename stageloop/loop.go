// Package stageloop implements the top-level driver of §4.8 and §L7: it
// runs stages forward in order, triggers an unwind when any stage signals
// an inconsistency, and iterates until shutdown or a fatal error.
package stageloop

import (
	"context"
	"fmt"
	"time"

	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/stages"
)

// idlePoll bounds how long the loop waits before re-entering forward after
// a round where every stage reported Done and nothing was unwound — §4.8's
// pseudocode re-enters forward unconditionally, but without some pacing a
// fully-synced node would spin the CPU calling Forward in a tight loop.
const idlePoll = 2 * time.Second

// Loop is the stage loop of §4.8. Stages run forward in the order given to
// New; unwind runs the touched prefix in reverse, per §4.8's explicit fix
// for the source's reverse-iteration bug (§9 Open Questions).
type Loop struct {
	stages []stages.Stage
	log    log.Logger
}

// New builds a Loop over stages, run in the given order on every forward
// pass.
func New(logger log.Logger, ordered ...stages.Stage) *Loop {
	return &Loop{stages: ordered, log: logger}
}

// Run executes the §4.8 pseudocode until ctx is cancelled or a stage
// returns StatusError from either a forward or unwind pass. firstSync is
// threaded into every stage's first Forward call only, per §4.1.
func (l *Loop) Run(ctx context.Context, firstSync bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil // shutdown observed at an iteration boundary (§5)
		}

		result, lastTouched := l.forward(ctx, firstSync)
		unwound := false
		if result.Status == stages.StatusUnwindNeeded {
			unwound = true
			result = l.unwind(ctx, lastTouched, result.UnwindPoint, result.BadBlock)
		}
		firstSync = false

		if result.Status == stages.StatusError {
			return fmt.Errorf("stageloop: %w", result.Err)
		}

		if !unwound && result.Status == stages.StatusDone {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePoll):
			}
		}
	}
}

// forward runs every stage in array order. The first UnwindNeeded or Error
// truncates the pass and records the index reached (§4.8, "the first
// UnwindNeeded truncates the forward pass and records the index reached").
func (l *Loop) forward(ctx context.Context, firstSync bool) (stages.Result, int) {
	for i, s := range l.stages {
		res := s.Forward(ctx, firstSync)
		l.log.Debug("stage forward", "stage", s.ID(), "result", res.String())
		if res.Status == stages.StatusUnwindNeeded || res.Status == stages.StatusError {
			return res, i
		}
	}
	return stages.Done(), len(l.stages) - 1
}

// unwind runs the touched stages in reverse order from lastTouched down to
// 0 inclusive. A stage returning Error during unwind aborts the pass; the
// loop then exits with that error (§4.8). This fixes the source's
// reverse-iteration bug noted in §9 Open Questions: the source unwinds the
// full stage array regardless of how far forward got, which re-runs
// UnwindTo on stages that never advanced past point in the first place.
func (l *Loop) unwind(ctx context.Context, lastTouched int, point common.BlockNum, badBlock common.Hash) stages.Result {
	for i := lastTouched; i >= 0; i-- {
		s := l.stages[i]
		res := s.UnwindTo(ctx, point, badBlock)
		l.log.Debug("stage unwind", "stage", s.ID(), "result", res.String())
		if res.Status == stages.StatusError {
			return res
		}
	}
	return stages.Done()
}
