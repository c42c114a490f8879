package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"OpenFX-Ledger/internal/proofs"
)

// Party is a named participant identified by its signing key.
type Party struct {
	Name string           `json:"name"`
	Key  proofs.PublicKey `json:"key"`
}

func (p Party) String() string {
	if p.Name == "" {
		return p.Key.Short()
	}
	return p.Name
}

// BalanceRecord is one party's holding of one currency. Currency caches
// Amount.Currency.
type BalanceRecord struct {
	Owner    Party  `json:"owner"`
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

// NewBalanceRecord builds a record with its currency cache filled in.
func NewBalanceRecord(owner Party, amount Amount) BalanceRecord {
	return BalanceRecord{Owner: owner, Amount: amount, Currency: amount.Currency}
}

// WithQuantity returns a copy of r holding qty.
func (r BalanceRecord) WithQuantity(qty int64) BalanceRecord {
	return NewBalanceRecord(r.Owner, NewAmount(qty, r.Amount.Currency))
}

// StateRef points at an output of a committed transition.
type StateRef struct {
	TxID  common.Hash `json:"tx_id"`
	Index int         `json:"index"`
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s(%d)", r.TxID.Hex(), r.Index)
}

// StateAndRef is a record together with the output that produced it.
type StateAndRef struct {
	Record BalanceRecord `json:"record"`
	Ref    StateRef      `json:"ref"`
}

// TimeWindow bounds when a transition may be committed.
type TimeWindow struct {
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

// Contains reports whether t falls inside the window. Zero bounds are open.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.Until.IsZero() && !t.Before(w.Until) {
		return false
	}
	return true
}

// Receipt is returned by the finality service once a transition is committed.
type Receipt struct {
	TxID            common.Hash      `json:"tx_id"`
	Notary          Party            `json:"notary"`
	NotarySignature proofs.Signature `json:"notary_signature"`
	CommittedAt     time.Time        `json:"committed_at"`
}
