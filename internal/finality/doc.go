// Package finality implements the notary that commits transitions. A
// transition is committed once every required signer has signed it, it
// passes the wallet rules again, and none of its inputs has been consumed.
// The notary signs the transition id and returns that signature as the
// receipt. Client reaches a notary hosted by another node.
package finality
