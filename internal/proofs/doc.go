// Package proofs implements the cryptographic primitives used to attest ledger
// transitions: secp256k1 keys and signatures, the salted keccak256 Merkle tree
// that identifies a transition, and filtered views that reveal only selected
// leaves to a third party while still proving inclusion under the same root.
//
// The package knows nothing about ledger records. Callers hand it opaque
// payloads tagged with a component group. The only payload it interprets is
// the signers group, which carries the JSON list of keys required by the
// command at the same index.
package proofs
