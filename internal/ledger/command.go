package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/proofs"
)

// CommandKind names the intent carried by a command.
type CommandKind string

const (
	KindCreate   CommandKind = "create"
	KindTransfer CommandKind = "transfer"
	KindDelete   CommandKind = "delete"
	KindRate     CommandKind = "rate"
)

// Intent is the payload of a command.
type Intent interface {
	Kind() CommandKind
}

// WalletIntent is an intent governed by one of the wallet rules. The set is
// closed: only Create, Transfer and Delete implement it, and each carries its
// own rule.
type WalletIntent interface {
	Intent
	verify(consumed, produced []BalanceRecord, signers keySet) error
}

// Create opens a wallet in a new currency.
type Create struct{}

// Transfer moves value between wallets of the same currency.
type Transfer struct{}

// Delete closes an empty wallet.
type Delete struct{}

// Rate asks the named signers to attest a rate fact.
type Rate struct {
	Fact RateFact
}

func (Create) Kind() CommandKind   { return KindCreate }
func (Transfer) Kind() CommandKind { return KindTransfer }
func (Delete) Kind() CommandKind   { return KindDelete }
func (Rate) Kind() CommandKind     { return KindRate }

// RateOf identifies a currency pair.
type RateOf struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

func (r RateOf) String() string { return r.From + "/" + r.To }

// RateFact is the number of To units one From unit is worth.
type RateFact struct {
	From string          `json:"from" yaml:"from"`
	To   string          `json:"to" yaml:"to"`
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

// Of returns the pair the fact is about.
func (f RateFact) Of() RateOf { return RateOf{From: f.From, To: f.To} }

// Equal compares facts by pair and numeric value.
func (f RateFact) Equal(other RateFact) bool {
	return f.From == other.From && f.To == other.To && f.Rate.Equal(other.Rate)
}

func (f RateFact) String() string {
	return fmt.Sprintf("%s/%s=%s", f.From, f.To, f.Rate.String())
}

// Command pairs an intent with the keys that must sign the transition.
type Command struct {
	Value   Intent
	Signers []proofs.PublicKey
}

// NewCommand builds a command.
func NewCommand(value Intent, signers ...proofs.PublicKey) Command {
	return Command{Value: value, Signers: signers}
}

// HasSigner reports whether key is one of the command's signers.
func (c Command) HasSigner(key proofs.PublicKey) bool {
	for _, s := range c.Signers {
		if s == key {
			return true
		}
	}
	return false
}

type commandJSON struct {
	Kind    CommandKind        `json:"kind"`
	Rate    *RateFact          `json:"rate,omitempty"`
	Signers []proofs.PublicKey `json:"signers"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Value == nil {
		return nil, xerrors.New(CodeMalformedCommand, "command has no intent")
	}
	out := commandJSON{Kind: c.Value.Kind(), Signers: c.Signers}
	if out.Signers == nil {
		out.Signers = []proofs.PublicKey{}
	}
	if r, ok := c.Value.(Rate); ok {
		fact := r.Fact
		out.Rate = &fact
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Command) UnmarshalJSON(data []byte) error {
	var in commandJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return xerrors.Wrap(CodeMalformedCommand, err, "decode command")
	}
	switch in.Kind {
	case KindCreate:
		c.Value = Create{}
	case KindTransfer:
		c.Value = Transfer{}
	case KindDelete:
		c.Value = Delete{}
	case KindRate:
		if in.Rate == nil {
			return xerrors.New(CodeMalformedCommand, "rate command carries no fact")
		}
		c.Value = Rate{Fact: *in.Rate}
	default:
		return xerrors.Newf(CodeMalformedCommand, "unknown command kind %q", in.Kind)
	}
	c.Signers = in.Signers
	return nil
}

// DecodeCommand decodes a command leaf payload.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		if xerrors.CodeOf(err) == CodeMalformedCommand {
			return Command{}, err
		}
		return Command{}, xerrors.Wrap(CodeMalformedCommand, err, "decode command")
	}
	return cmd, nil
}

// OracleFilter selects the command leaves an oracle is allowed to see: those
// carrying a Rate intent and naming the oracle among their signers.
func OracleFilter(oracle proofs.PublicKey) proofs.Predicate {
	return func(l proofs.Leaf) bool {
		if l.Group != proofs.GroupCommands {
			return false
		}
		cmd, err := DecodeCommand(l.Payload)
		if err != nil {
			return false
		}
		_, isRate := cmd.Value.(Rate)
		return isRate && cmd.HasSigner(oracle)
	}
}
