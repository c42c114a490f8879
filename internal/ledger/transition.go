package ledger

import (
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"OpenFX-Ledger/internal/proofs"
)

// Transition consumes committed records and produces new ones under a set of
// commands. Its identity is the Merkle root of its salted components.
type Transition struct {
	Inputs      []StateAndRef   `json:"inputs"`
	Outputs     []BalanceRecord `json:"outputs"`
	Commands    []Command       `json:"commands"`
	Notary      Party           `json:"notary"`
	TimeWindow  *TimeWindow     `json:"time_window,omitempty"`
	PrivacySalt common.Hash     `json:"privacy_salt"`
}

// Components serializes the transition into Merkle tree components. Command i
// is paired with signers leaf i.
func (t Transition) Components() []proofs.Component {
	var out []proofs.Component
	add := func(group proofs.Group, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			// Only Command can fail to marshal, and only when it has no intent.
			payload = []byte("null")
		}
		out = append(out, proofs.Component{Group: group, Payload: payload})
	}
	for _, in := range t.Inputs {
		add(proofs.GroupInputs, in)
	}
	for _, rec := range t.Outputs {
		add(proofs.GroupOutputs, rec)
	}
	for _, cmd := range t.Commands {
		add(proofs.GroupCommands, cmd)
	}
	for _, cmd := range t.Commands {
		out = append(out, proofs.Component{Group: proofs.GroupSigners, Payload: proofs.EncodeSigners(cmd.Signers)})
	}
	add(proofs.GroupNotary, t.Notary)
	if t.TimeWindow != nil {
		add(proofs.GroupTimeWindow, t.TimeWindow)
	}
	return out
}

// FullView builds the complete Merkle view.
func (t Transition) FullView() proofs.FullView {
	return proofs.Build(t.PrivacySalt, t.Components())
}

// ID returns the transition identifier.
func (t Transition) ID() common.Hash {
	return t.FullView().Root
}

// InputRecords returns the consumed records.
func (t Transition) InputRecords() []BalanceRecord {
	out := make([]BalanceRecord, len(t.Inputs))
	for i, in := range t.Inputs {
		out[i] = in.Record
	}
	return out
}

// WalletCommands returns the commands governed by a wallet rule.
func (t Transition) WalletCommands() []Command {
	var out []Command
	for _, cmd := range t.Commands {
		if _, ok := cmd.Value.(WalletIntent); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// RateCommands returns the attestation commands.
func (t Transition) RateCommands() []Command {
	var out []Command
	for _, cmd := range t.Commands {
		if _, ok := cmd.Value.(Rate); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// RequiredSigners is the sorted union of all command signers.
func (t Transition) RequiredSigners() []proofs.PublicKey {
	set := newKeySet()
	for _, cmd := range t.Commands {
		set.add(cmd.Signers...)
	}
	return set.sorted()
}

// OutRef returns output i with the provenance it gets once committed.
func (t Transition) OutRef(id common.Hash, i int) StateAndRef {
	return StateAndRef{Record: t.Outputs[i], Ref: StateRef{TxID: id, Index: i}}
}

// SignedTransition is a transition with the signatures collected so far.
type SignedTransition struct {
	Tx         Transition         `json:"tx"`
	Signatures []proofs.Signature `json:"signatures"`
}

// ID returns the transition identifier.
func (s SignedTransition) ID() common.Hash { return s.Tx.ID() }

// AddSignature appends sig, replacing an earlier signature by the same key.
func (s *SignedTransition) AddSignature(sig proofs.Signature) {
	for i, existing := range s.Signatures {
		if existing.By == sig.By {
			s.Signatures[i] = sig
			return
		}
	}
	s.Signatures = append(s.Signatures, sig)
}

// SignatureBy returns the signature made by key, if any.
func (s SignedTransition) SignatureBy(key proofs.PublicKey) (proofs.Signature, bool) {
	for _, sig := range s.Signatures {
		if sig.By == key {
			return sig, true
		}
	}
	return proofs.Signature{}, false
}

// InvalidSignatures lists signers whose attached signature does not verify over root.
func (s SignedTransition) InvalidSignatures(root common.Hash) []proofs.PublicKey {
	var bad []proofs.PublicKey
	for _, sig := range s.Signatures {
		if !sig.Verify(root) {
			bad = append(bad, sig.By)
		}
	}
	return bad
}

// MissingSigners lists required signers without a valid signature over root.
func (s SignedTransition) MissingSigners(root common.Hash) []proofs.PublicKey {
	var missing []proofs.PublicKey
	for _, key := range s.Tx.RequiredSigners() {
		sig, ok := s.SignatureBy(key)
		if !ok || !proofs.VerifySignature(sig, root, key) {
			missing = append(missing, key)
		}
	}
	return missing
}

type keySet map[proofs.PublicKey]struct{}

func newKeySet(keys ...proofs.PublicKey) keySet {
	set := make(keySet, len(keys))
	set.add(keys...)
	return set
}

func (s keySet) add(keys ...proofs.PublicKey) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

func (s keySet) equal(other keySet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

func (s keySet) sorted() []proofs.PublicKey {
	out := make([]proofs.PublicKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s keySet) shortList() []string {
	keys := s.sorted()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Short()
	}
	return out
}
