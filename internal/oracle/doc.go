// Package oracle implements the rate oracle. It answers rate queries from its
// table and countersigns transitions it can only partially see: the caller
// sends a filtered view that reveals the rate command and hides everything
// else, and the oracle signs the Merkle root once it has checked that the
// revealed fact is one it holds and that nothing requiring its key is hidden.
package oracle
