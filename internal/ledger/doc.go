// Package ledger defines the wallet model: balance records, the closed set of
// commands that may move them, transitions, and the rules a transition must
// satisfy before anyone signs it.
//
// Every rule is a pure function of the consumed records, the produced records
// and the command's signers. The same inputs always yield the same verdict.
package ledger
