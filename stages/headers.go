package stages

import (
	"context"
	"fmt"

	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/headerchain"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/store"
)

// headersBatchSize bounds how many headers a single Forward call drains
// from the header chain before committing, keeping each transaction's
// write set bounded even when a long connected run becomes available at
// once (§4.1, "one transaction per forward call").
const headersBatchSize = 4096

// Headers implements the Headers stage of §4.2: it drains verified,
// connected headers from the header chain and persists them, updating the
// canonical chain pointer and total-difficulty index.
type Headers struct {
	db     *store.DB
	hc     *headerchain.HeaderChain
	seal   chain.SealVerifier
	log    log.Logger
	feeder bodyFeeder
}

// NewHeaders builds the Headers stage. seal is consulted once per header
// before it is persisted (§4.2 step (c)); pass chain.AcceptAllSeals{} where
// no concrete consensus engine is wired in.
func NewHeaders(db *store.DB, hc *headerchain.HeaderChain, seal chain.SealVerifier, logger log.Logger) *Headers {
	return &Headers{db: db, hc: hc, seal: seal, log: logger}
}

func (h *Headers) ID() string { return "Headers" }

// unwindSignal carries the offending header's predecessor and hash out of
// the db.Update closure so Forward can turn it into an UnwindNeeded Result
// after the (failed) transaction has been discarded.
type unwindSignal struct {
	point common.BlockNum
	bad   common.Hash
}

func (unwindSignal) Error() string { return "headers: unwind needed" }

func (h *Headers) Forward(ctx context.Context, firstSync bool) Result {
	for {
		if err := ctx.Err(); err != nil {
			return Error(err)
		}

		batch := h.hc.ConnectedPrefix(headersBatchSize)
		if len(batch) == 0 {
			if h.hc.HasPendingWork() {
				// Requests for the missing run are in flight; nothing to
				// persist yet, but the exchange is still working (§4.2).
				return Done()
			}
			return Done()
		}

		var unwind *unwindSignal
		var newHead *chain.Header
		var fedBodies []pendingBody

		err := h.db.Update(func(tx store.ReadWriteTx) error {
			headNumber, _, err := store.ReadHeadNumber(tx)
			if err != nil {
				return fmt.Errorf("headers: read head number: %w", err)
			}
			headHash, err := store.ReadCanonicalHash(tx, headNumber)
			if err != nil {
				return fmt.Errorf("headers: read head hash: %w", err)
			}
			predecessor := headHash
			predecessorNumber := headNumber
			var predecessorTD *chain.TotalDifficulty
			if headNumber > 0 || !headHash.IsZero() {
				predecessorTD, err = store.ReadTotalDifficulty(tx, headNumber, headHash)
				if err != nil {
					return fmt.Errorf("headers: read head td: %w", err)
				}
			}
			if predecessorTD == nil {
				predecessorTD = new(chain.TotalDifficulty)
			}

			for _, hdr := range batch {
				// (d) hash not blacklisted — checked against the persisted
				// blacklist so a bad block identified in a prior run is
				// never re-accepted (§7).
				blacklisted, err := store.IsBlacklisted(tx, hdr.Hash())
				if err != nil {
					return fmt.Errorf("headers: blacklist lookup: %w", err)
				}
				if blacklisted {
					unwind = &unwindSignal{point: common.BlockNum(predecessorNumber), bad: hdr.Hash()}
					return unwind
				}
				// (a)/(b) parent-hash and number continuity (P1).
				if hdr.Number != predecessorNumber+1 || hdr.ParentHash != predecessor {
					unwind = &unwindSignal{point: common.BlockNum(predecessorNumber), bad: hdr.Hash()}
					return unwind
				}
				// (c) seal validity for this fork.
				if err := h.seal.VerifySeal(hdr); err != nil {
					unwind = &unwindSignal{point: common.BlockNum(predecessorNumber), bad: hdr.Hash()}
					return unwind
				}

				td := chain.AddDifficulty(predecessorTD, hdr)
				if err := store.WriteHeader(tx, hdr); err != nil {
					return err
				}
				if err := store.WriteCanonicalHash(tx, hdr.Number, hdr.Hash()); err != nil {
					return err
				}
				if err := store.WriteTotalDifficulty(tx, hdr.Number, hdr.Hash(), td); err != nil {
					return err
				}
				fedBodies = append(fedBodies, pendingBody{number: hdr.Number, hash: hdr.Hash()})

				predecessor, predecessorNumber, predecessorTD = hdr.Hash(), hdr.Number, td
				newHead = hdr
			}
			return store.WriteHeadNumber(tx, predecessorNumber)
		})

		if unwind != nil {
			return Unwind(unwind.point, unwind.bad)
		}
		if err != nil {
			return Error(fmt.Errorf("headers: commit: %w", err))
		}

		if newHead != nil {
			h.hc.SetPersistedHead(newHead.Number, newHead.Hash())
			h.log.Info("extended canonical chain", "number", newHead.Number, "hash", newHead.Hash())
			h.onNewHeaders(fedBodies)
		}

		if len(batch) < headersBatchSize {
			return Done()
		}
	}
}

// pendingBody is the (number, hash) of a header just persisted, handed to
// the body sequence by onNewHeaders so the Bodies stage can pick it up
// without rescanning the store (§4.3, "header persisted ∧ body missing").
type pendingBody struct {
	number uint64
	hash   common.Hash
}

// bodyFeeder receives newly-persisted headers' (number, hash) pairs; the
// Bodies stage registers itself here at construction so Headers never
// imports the bodies package directly.
type bodyFeeder interface {
	FeedHeaders(items []pendingBody)
}

// feeder is nil until a Bodies stage attaches itself via AttachBodyFeeder.
func (h *Headers) onNewHeaders(items []pendingBody) {
	if h.feeder != nil && len(items) > 0 {
		h.feeder.FeedHeaders(items)
	}
}

// AttachBodyFeeder wires the Bodies stage as the recipient of newly
// persisted header (number, hash) pairs, matching the "Headers stage's
// commit happens-before any dependent Bodies stage read" ordering of §5.
func (h *Headers) AttachBodyFeeder(f bodyFeeder) { h.feeder = f }

// UnwindTo atomically deletes every header/TD/canonical-mapping above
// point, restores the canonical head and persists badBlock to the
// blacklist (§4.2 Unwind, P4).
func (h *Headers) UnwindTo(ctx context.Context, point common.BlockNum, badBlock common.Hash) Result {
	err := h.db.Update(func(tx store.ReadWriteTx) error {
		headNumber, ok, err := store.ReadHeadNumber(tx)
		if err != nil {
			return fmt.Errorf("headers: unwind: read head: %w", err)
		}
		if ok && headNumber > uint64(point) {
			for n := headNumber; n > uint64(point); n-- {
				hash, err := store.ReadCanonicalHash(tx, n)
				if err != nil {
					return err
				}
				if !hash.IsZero() {
					if err := store.DeleteHeader(tx, n, hash); err != nil {
						return err
					}
					if err := store.DeleteTotalDifficulty(tx, n, hash); err != nil {
						return err
					}
					if err := store.DeleteBody(tx, n, hash); err != nil {
						return err
					}
				}
				if err := store.DeleteCanonicalHash(tx, n); err != nil {
					return err
				}
			}
			if err := store.WriteHeadNumber(tx, uint64(point)); err != nil {
				return err
			}
		}
		if !badBlock.IsZero() {
			if err := store.Blacklist(tx, badBlock); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Error(fmt.Errorf("headers: unwind commit: %w", err))
	}

	h.hc.Blacklist(badBlock)
	var newHash common.Hash
	_ = h.db.View(func(tx store.ReadTx) error {
		hash, err := store.ReadCanonicalHash(tx, uint64(point))
		if err == nil {
			newHash = hash
		}
		return err
	})
	h.hc.SetPersistedHead(uint64(point), newHash)
	return Done()
}
