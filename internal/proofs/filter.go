package proofs

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FilteredLeaf is a leaf of a filtered view. A revealed leaf carries its nonce
// and payload. A hidden leaf carries only its hash.
type FilteredLeaf struct {
	Group    Group         `json:"group"`
	Index    int           `json:"index"`
	Revealed bool          `json:"revealed"`
	Nonce    common.Hash   `json:"nonce"`
	Payload  hexutil.Bytes `json:"payload,omitempty"`
	Hash     common.Hash   `json:"hash"`
}

func (l FilteredLeaf) leafHash() common.Hash {
	if l.Revealed {
		return leafHash(l.Group, l.Index, l.Nonce, l.Payload)
	}
	return l.Hash
}

// FilteredView proves the revealed leaves belong to the transition with the
// given root without disclosing the hidden ones.
type FilteredView struct {
	Root   common.Hash    `json:"root"`
	Leaves []FilteredLeaf `json:"leaves"`
}

// Group returns the leaves of g in index order.
func (v FilteredView) Group(g Group) []FilteredLeaf {
	var out []FilteredLeaf
	for _, l := range v.Leaves {
		if l.Group == g {
			out = append(out, l)
		}
	}
	return out
}

// Revealed returns the revealed leaves of g in index order.
func (v FilteredView) Revealed(g Group) []FilteredLeaf {
	var out []FilteredLeaf
	for _, l := range v.Leaves {
		if l.Group == g && l.Revealed {
			out = append(out, l)
		}
	}
	return out
}

// Predicate selects the leaves to reveal.
type Predicate func(Leaf) bool

// Filter reveals the leaves matched by keep and hides the rest. The signers
// group is always revealed so that CheckLeafVisibility can be evaluated by the
// receiver.
func Filter(full FullView, keep Predicate) FilteredView {
	leaves := make([]FilteredLeaf, len(full.Leaves))
	for i, l := range full.Leaves {
		fl := FilteredLeaf{Group: l.Group, Index: l.Index}
		if l.Group == GroupSigners || (keep != nil && keep(l)) {
			fl.Revealed = true
			fl.Nonce = l.Nonce
			fl.Payload = append(hexutil.Bytes(nil), l.Payload...)
		} else {
			fl.Hash = l.Hash()
		}
		leaves[i] = fl
	}
	return FilteredView{Root: full.Root, Leaves: leaves}
}

// Verify recomputes the root of v and returns it when it matches the claimed
// root. The leaves must be in canonical order: groups ascending and indices
// contiguous from zero within each group.
func Verify(v FilteredView) (common.Hash, error) {
	if len(v.Leaves) == 0 {
		return common.Hash{}, integrityf("filtered view has no leaves")
	}
	hashes := make([]common.Hash, len(v.Leaves))
	counts := make(map[Group]int, groupCount)
	prev, expected := Group(0), 0
	for i, l := range v.Leaves {
		if l.Group >= groupCount {
			return common.Hash{}, integrityf("leaf %d has unknown group %d", i, l.Group)
		}
		if l.Group < prev {
			return common.Hash{}, integrityf("leaf %d is out of group order", i)
		}
		if l.Group != prev {
			prev, expected = l.Group, 0
		}
		if l.Index != expected {
			return common.Hash{}, integrityf("leaf %d of group %s has index %d, want %d", i, l.Group, l.Index, expected)
		}
		if !l.Revealed && len(l.Payload) > 0 {
			return common.Hash{}, integrityf("hidden leaf %d carries a payload", i)
		}
		if !l.Revealed && l.Hash == (common.Hash{}) {
			return common.Hash{}, integrityf("hidden leaf %d has the zero hash", i)
		}
		expected++
		counts[l.Group]++
		hashes[i] = l.leafHash()
	}
	root := viewRoot(counts, hashes)
	if root != v.Root {
		return common.Hash{}, integrityf("recomputed root %s does not match claimed root %s", root.Hex(), v.Root.Hex())
	}
	return root, nil
}

// CheckLeafVisibility fails when a command that lists key among its signers is
// hidden from the view. Signers leaf i lists the keys required by command i, so
// every signers leaf must be revealed and the two groups must have equal size.
func CheckLeafVisibility(v FilteredView, key PublicKey) error {
	commands := v.Group(GroupCommands)
	signers := v.Group(GroupSigners)
	if len(commands) != len(signers) {
		return integrityf("view has %d commands but %d signer lists", len(commands), len(signers))
	}
	for i, s := range signers {
		if !s.Revealed {
			return hiddenf("signer list %d is hidden", i)
		}
		keys, err := DecodeSigners(s.Payload)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k == key && !commands[i].Revealed {
				return hiddenf("command %d requires signer %s but is hidden", i, key.Short())
			}
		}
	}
	return nil
}
