package ledger

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustlog/internal/canonical"
	"github.com/ppiankov/trustlog/internal/model"
	"github.com/ppiankov/trustlog/internal/store"
)

// VerifyRequest selects a contiguous chain range to re-verify.
// Zero From/To default to the whole chain. Checkpoint, when set, is a
// previously trusted integrity hash for sequence From-1, enabling
// incremental re-verification without replaying the prefix.
type VerifyRequest struct {
	From       int64  `json:"from,omitempty"`
	To         int64  `json:"to,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// VerifyResult reports either an intact range (with a new checkpoint)
// or the first sequence at which the chain diverges. A divergence is
// never auto-corrected; it is evidence for human investigation.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	Entries     int    `json:"entries"`
	Checkpoint  string `json:"checkpoint,omitempty"`
	BadSequence int64  `json:"bad_sequence,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Verifier replays committed ranges and recomputes their hashes.
// Read-only; safe to run concurrently with ongoing appends since it
// only touches an already-committed prefix.
type Verifier struct {
	store store.Store
}

// NewVerifier creates a Verifier over the given store.
func NewVerifier(s store.Store) *Verifier {
	return &Verifier{store: s}
}

// Verify walks [req.From, req.To] in ascending sequence order checking
// three things per entry: sequence contiguity, prev_hash linkage, and
// the stored integrity_hash against a recomputation from the canonical
// encoding. The first divergence wins; later entries are not examined.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	tail, err := v.store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read tail: %w", err)
	}

	from, to := req.From, req.To
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = tail.Sequence
	}
	if from < 1 {
		return nil, model.Validationf("from", "must be >= 1, got %d", from)
	}
	if tail.Sequence == 0 && req.From == 0 && req.To == 0 {
		// Whole-chain verification of an empty chain is trivially valid.
		return &VerifyResult{Valid: true, From: 1, To: 0, Checkpoint: model.GenesisHash}, nil
	}
	if to < from {
		return nil, model.Validationf("to", "range [%d, %d] is inverted", from, to)
	}
	if to > tail.Sequence {
		return nil, fmt.Errorf("ledger: verify range [%d, %d] beyond tail %d: %w",
			from, to, tail.Sequence, model.ErrNotFound)
	}

	entries, err := v.store.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: load range: %w", err)
	}

	result := &VerifyResult{From: from, To: to, Entries: len(entries)}

	// The running hash each entry's prev_hash must equal. For a range
	// starting at 1 that is the genesis sentinel; for a later start it
	// is the caller's checkpoint, or — absent one — the first entry's
	// own stored prev_hash (linkage into the prefix is then trusted,
	// not proven).
	var expectPrev string
	haveExpect := true
	switch {
	case from == 1:
		expectPrev = model.GenesisHash
	case req.Checkpoint != "":
		expectPrev = req.Checkpoint
	default:
		haveExpect = false
	}

	next := from
	for i := range entries {
		e := &entries[i]

		if e.Sequence != next {
			return fail(result, next, fmt.Sprintf("sequence gap: expected %d, found %d", next, e.Sequence)), nil
		}
		if !haveExpect {
			expectPrev = e.PrevHash
			haveExpect = true
		}
		if e.PrevHash != expectPrev {
			return fail(result, e.Sequence, fmt.Sprintf("prev_hash linkage broken: expected %s, stored %s", expectPrev, e.PrevHash)), nil
		}

		recomputed, err := canonical.EntryHash(e)
		if err != nil {
			return fail(result, e.Sequence, fmt.Sprintf("entry not canonicalizable: %v", err)), nil
		}
		if recomputed != e.IntegrityHash {
			return fail(result, e.Sequence, fmt.Sprintf("integrity hash mismatch: recomputed %s, stored %s", recomputed, e.IntegrityHash)), nil
		}

		expectPrev = recomputed
		next++
	}

	if next != to+1 {
		return fail(result, next, fmt.Sprintf("sequence gap: expected %d, chain range ended early", next)), nil
	}

	result.Valid = true
	result.Checkpoint = expectPrev
	return result, nil
}

func fail(r *VerifyResult, seq int64, reason string) *VerifyResult {
	r.Valid = false
	r.BadSequence = seq
	r.Reason = reason
	return r
}
