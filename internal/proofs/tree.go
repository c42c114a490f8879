package proofs

import (
	"crypto/rand"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Group tags a leaf with the transition component it belongs to. Leaves are
// always ordered by group, then by index within the group.
type Group uint8

const (
	GroupInputs Group = iota
	GroupOutputs
	GroupCommands
	GroupSigners
	GroupNotary
	GroupTimeWindow

	groupCount
)

var groupNames = [groupCount]string{"inputs", "outputs", "commands", "signers", "notary", "timewindow"}

func (g Group) String() string {
	if g < groupCount {
		return groupNames[g]
	}
	return "unknown"
}

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
	rootPrefix byte = 0x02
)

// Component is one serialized element of a transition.
type Component struct {
	Group   Group
	Payload []byte
}

// Leaf is a salted component as it appears in the full view.
type Leaf struct {
	Group   Group         `json:"group"`
	Index   int           `json:"index"`
	Nonce   common.Hash   `json:"nonce"`
	Payload hexutil.Bytes `json:"payload"`
}

// Hash returns the leaf hash committed to by the tree.
func (l Leaf) Hash() common.Hash {
	return leafHash(l.Group, l.Index, l.Nonce, l.Payload)
}

// FullView is the complete set of salted leaves of a transition and their root.
type FullView struct {
	Root   common.Hash
	Leaves []Leaf
}

// NewSalt draws a fresh privacy salt.
func NewSalt() (common.Hash, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return common.Hash{}, err
	}
	return salt, nil
}

// Build salts every component, orders the leaves canonically and computes the
// root. Identical inputs always produce the identical view.
func Build(salt common.Hash, components []Component) FullView {
	ordered := make([]Component, len(components))
	copy(ordered, components)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Group < ordered[j].Group })

	next := make(map[Group]int, groupCount)
	leaves := make([]Leaf, len(ordered))
	hashes := make([]common.Hash, len(ordered))
	for i, c := range ordered {
		idx := next[c.Group]
		next[c.Group]++
		leaves[i] = Leaf{
			Group:   c.Group,
			Index:   idx,
			Nonce:   nonce(salt, c.Group, idx),
			Payload: append(hexutil.Bytes(nil), c.Payload...),
		}
		hashes[i] = leaves[i].Hash()
	}
	return FullView{Root: viewRoot(next, hashes), Leaves: leaves}
}

// viewRoot binds the number of leaves in every group to the tree root, so a
// view with added, dropped or folded leaves cannot rebuild the same root.
func viewRoot(counts map[Group]int, hashes []common.Hash) common.Hash {
	buf := make([]byte, 1+4*int(groupCount))
	buf[0] = rootPrefix
	for g := Group(0); g < groupCount; g++ {
		binary.BigEndian.PutUint32(buf[1+4*int(g):], uint32(counts[g]))
	}
	tree := merkleRoot(hashes)
	return crypto.Keccak256Hash(buf, tree.Bytes())
}

func indexBytes(group Group, index int) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(group)
	binary.BigEndian.PutUint32(buf[1:], uint32(index))
	return buf
}

func nonce(salt common.Hash, group Group, index int) common.Hash {
	return crypto.Keccak256Hash(salt.Bytes(), indexBytes(group, index))
}

func leafHash(group Group, index int, n common.Hash, payload []byte) common.Hash {
	return crypto.Keccak256Hash([]byte{leafPrefix}, indexBytes(group, index), n.Bytes(), payload)
}

func nodeHash(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{nodePrefix}, left.Bytes(), right.Bytes())
}

// merkleRoot pads hashes with the zero hash up to a power of two and folds
// them pairwise. A single leaf is its own root.
func merkleRoot(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.Hash{}
	}
	width := 1
	for width < len(hashes) {
		width <<= 1
	}
	level := make([]common.Hash, width)
	copy(level, hashes)
	for len(level) > 1 {
		parent := make([]common.Hash, len(level)/2)
		for i := range parent {
			parent[i] = nodeHash(level[2*i], level[2*i+1])
		}
		level = parent
	}
	return level[0]
}
