package chain

// SealVerifier checks a header's seal against the consensus rules active
// for its fork. The consensus engine itself is an external collaborator
// (§1, "Consensus-engine block execution beyond header/body well-formedness"
// is out of scope): this engine only needs a yes/no answer at the point a
// header is about to be persisted (§4.2 step (c)).
type SealVerifier interface {
	VerifySeal(header *Header) error
}

// AcceptAllSeals is the default SealVerifier used where no concrete
// consensus engine is wired in (tests, and any network whose fork rules are
// not worth modelling for this engine's purposes). It never rejects a
// header on seal grounds, leaving parent-hash/number continuity (P1) and
// the pre-verified checkpoint table (P6) as the only gates.
type AcceptAllSeals struct{}

func (AcceptAllSeals) VerifySeal(*Header) error { return nil }
