package stages

import (
	"context"
	"fmt"

	"github.com/gurukamath/silkworm/bodies"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/store"
)

// Bodies implements the Bodies stage of §4.3: for every header persisted by
// the Headers stage but whose body is not yet stored, it feeds the body
// sequence and persists whatever arrives.
type Bodies struct {
	db  *store.DB
	seq *bodies.Sequence
	log log.Logger

	// numbers tracks the block number for every hash currently owed to the
	// sequence, so a drained (hash, body) pair can be matched back to its
	// header without a store scan (§4.3).
	numbers map[common.Hash]uint64
}

// NewBodies builds the Bodies stage over seq, the shared body sequence the
// block exchange also feeds responses into.
func NewBodies(db *store.DB, seq *bodies.Sequence, logger log.Logger) *Bodies {
	return &Bodies{db: db, seq: seq, log: logger, numbers: make(map[common.Hash]uint64)}
}

func (b *Bodies) ID() string { return "Bodies" }

// FeedHeaders implements the bodyFeeder interface the Headers stage calls
// into right after its own commit (§5, "Headers stage's commit happens-
// before any dependent Bodies stage read of the same block number").
func (b *Bodies) FeedHeaders(items []pendingBody) {
	pending := make([]bodies.Pending, 0, len(items))
	for _, it := range items {
		b.numbers[it.hash] = it.number
		pending = append(pending, bodies.Pending{Number: it.number, Hash: it.hash})
	}
	b.seq.Enqueue(pending)
}

func (b *Bodies) Forward(ctx context.Context, firstSync bool) Result {
	for {
		if err := ctx.Err(); err != nil {
			return Error(err)
		}

		arrived := b.seq.Drain()
		if len(arrived) == 0 {
			if b.seq.Len() == 0 {
				return Done()
			}
			return Done()
		}

		var unwind *unwindSignal
		err := b.db.Update(func(tx store.ReadWriteTx) error {
			for hash, body := range arrived {
				number, ok := b.numbers[hash]
				if !ok {
					// No longer tracked: the header was unwound between
					// arrival and this commit. Nothing to persist.
					continue
				}
				header, err := store.ReadHeader(tx, number, hash)
				if err != nil {
					return fmt.Errorf("bodies: read header %d/%s: %w", number, hash, err)
				}
				if header == nil {
					// §4.3: "UnwindNeeded arises only on header/body
					// consistency violation discovered here" — the header
					// that owned this hash was unwound after the body
					// sequence already validated the pair, so there is
					// nothing inconsistent left to persist.
					delete(b.numbers, hash)
					continue
				}
				if !body.Matches(header) {
					// Re-validated here because the body sequence's own
					// check happened against an earlier snapshot; a
					// mismatch this late means the persisted header
					// itself is wrong, not just this response.
					unwind = &unwindSignal{point: common.BlockNum(number - 1), bad: hash}
					return unwind
				}
				if err := store.WriteBody(tx, number, hash, body); err != nil {
					return err
				}
				delete(b.numbers, hash)
			}
			return nil
		})

		if unwind != nil {
			return Unwind(unwind.point, unwind.bad)
		}
		if err != nil {
			return Error(fmt.Errorf("bodies: commit: %w", err))
		}

		b.log.Debug("persisted bodies", "count", len(arrived))

		if b.seq.Len() == 0 {
			return Done()
		}
	}
}

// UnwindTo deletes persisted bodies above point; headers and TD above point
// are already removed by the Headers stage's own unwind, so this stage's
// namespace is just the body table (§6, "Each stage's commit updates only
// its own namespaces").
func (b *Bodies) UnwindTo(ctx context.Context, point common.BlockNum, badBlock common.Hash) Result {
	err := b.db.Update(func(tx store.ReadWriteTx) error {
		headNumber, ok, err := store.ReadHeadNumber(tx)
		if err != nil {
			return err
		}
		if !ok || headNumber <= uint64(point) {
			return nil
		}
		for n := headNumber; n > uint64(point); n-- {
			hash, err := store.ReadCanonicalHash(tx, n)
			if err != nil {
				return err
			}
			if hash.IsZero() {
				continue
			}
			if err := store.DeleteBody(tx, n, hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Error(fmt.Errorf("bodies: unwind commit: %w", err))
	}
	for hash, number := range b.numbers {
		if common.BlockNum(number) > point {
			delete(b.numbers, hash)
		}
	}
	return Done()
}
