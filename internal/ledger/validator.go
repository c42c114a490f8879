package ledger

import (
	"math"
	"sort"
	"strings"
)

// Validate applies the wallet rule of cmd to the consumed and produced records.
// The required signers are the command's signers. The verdict depends only on
// the arguments.
func Validate(consumed, produced []BalanceRecord, cmd Command) error {
	intent, ok := cmd.Value.(WalletIntent)
	if !ok {
		kind := CommandKind("none")
		if cmd.Value != nil {
			kind = cmd.Value.Kind()
		}
		return violation(CodeMissingCommand, "command %q is not a wallet command", kind)
	}
	if err := checkCurrencyCache(consumed, produced); err != nil {
		return err
	}
	return intent.verify(consumed, produced, newKeySet(cmd.Signers...))
}

// VerifyTransition selects the single wallet command of tx and validates the
// transition against it. Attestation commands are not wallet rules and are
// ignored here.
func VerifyTransition(tx Transition) error {
	wallet := tx.WalletCommands()
	switch len(wallet) {
	case 0:
		return violation(CodeMissingCommand, "A wallet command (create, transfer or delete) must be present.")
	case 1:
	default:
		kinds := make([]string, len(wallet))
		for i, cmd := range wallet {
			kinds[i] = string(cmd.Value.Kind())
		}
		return violation(CodeMultipleCommands, "Only one wallet command may be present, found %s.", strings.Join(kinds, ", "))
	}
	return Validate(tx.InputRecords(), tx.Outputs, wallet[0])
}

func checkCurrencyCache(sides ...[]BalanceRecord) error {
	for _, records := range sides {
		for _, r := range records {
			if r.Currency != r.Amount.Currency {
				return violation(CodeCurrencyMismatch, "Record currency %s does not match its amount currency %s.", r.Currency, r.Amount.Currency)
			}
		}
	}
	return nil
}

func (Create) verify(consumed, produced []BalanceRecord, signers keySet) error {
	if len(consumed) != 0 {
		return violation(CodeUnexpectedInput, "No inputs should be consumed when creating a wallet.")
	}
	if len(produced) != 1 {
		return violation(CodeWrongOutputCount, "Only one output record should be created when creating a wallet, got %d.", len(produced))
	}
	out := produced[0]
	if out.Amount.Quantity < 0 {
		return violation(CodeNegativeQuantity, "The wallet balance must be non-negative, got %s.", out.Amount)
	}
	if !signers.equal(newKeySet(out.Owner.Key)) {
		return violation(CodeSignerMismatch, "The wallet owner must be the only signer.")
	}
	return nil
}

func (Delete) verify(consumed, produced []BalanceRecord, signers keySet) error {
	if len(produced) != 0 {
		return violation(CodeUnexpectedOutput, "No outputs should be created when deleting a wallet.")
	}
	switch len(consumed) {
	case 0:
		return violation(CodeEmptyInput, "Exactly one wallet must be consumed when deleting a wallet, got none.")
	case 1:
	default:
		return violation(CodeWrongInputCount, "Exactly one wallet must be consumed when deleting a wallet, got %d.", len(consumed))
	}
	in := consumed[0]
	if in.Amount.Quantity != 0 {
		return violation(CodeNonZeroBalance, "Only wallets with a zero balance can be deleted, got %s.", in.Amount)
	}
	if !signers.equal(newKeySet(in.Owner.Key)) {
		return violation(CodeSignerMismatch, "The wallet owner must be the only signer.")
	}
	return nil
}

type currencyGroup struct {
	inputs  []BalanceRecord
	outputs []BalanceRecord
}

func groupByCurrency(consumed, produced []BalanceRecord) ([]string, map[string]*currencyGroup) {
	groups := make(map[string]*currencyGroup)
	get := func(code string) *currencyGroup {
		g, ok := groups[code]
		if !ok {
			g = &currencyGroup{}
			groups[code] = g
		}
		return g
	}
	for _, r := range consumed {
		g := get(r.Amount.Currency)
		g.inputs = append(g.inputs, r)
	}
	for _, r := range produced {
		g := get(r.Amount.Currency)
		g.outputs = append(g.outputs, r)
	}
	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, groups
}

func (Transfer) verify(consumed, produced []BalanceRecord, signers keySet) error {
	if len(consumed) == 0 {
		return violation(CodeEmptyInput, "A transfer must consume at least one wallet.")
	}
	if len(produced) == 0 {
		return violation(CodeEmptyOutput, "A transfer must produce at least one wallet.")
	}

	owners := newKeySet()
	codes, groups := groupByCurrency(consumed, produced)
	for _, code := range codes {
		g := groups[code]
		if len(g.inputs) == 0 {
			return violation(CodeEmptyInput, "There must be input wallets in %s.", code)
		}
		if len(g.outputs) == 0 {
			return violation(CodeEmptyOutput, "There must be output wallets in %s.", code)
		}
		in, err := sumQuantities(code, g.inputs)
		if err != nil {
			return err
		}
		out, err := sumQuantities(code, g.outputs)
		if err != nil {
			return err
		}
		if in != out {
			return violation(CodeSumMismatch, "The %s values of inputs and outputs must be equal, got %d in and %d out.", code, in, out)
		}
		inOwners, outOwners := newKeySet(), newKeySet()
		for _, r := range g.inputs {
			inOwners.add(r.Owner.Key)
		}
		for _, r := range g.outputs {
			outOwners.add(r.Owner.Key)
		}
		if !inOwners.equal(outOwners) {
			return violation(CodeOwnerSetMismatch, "The owners of %s inputs and outputs must be the same.", code)
		}
		owners.add(inOwners.sorted()...)
	}
	if !owners.equal(signers) {
		return violation(CodeSignerMismatch, "All wallet owners must sign and only they may sign: owners %v, signers %v.", owners.shortList(), signers.shortList())
	}
	return nil
}

func sumQuantities(code string, records []BalanceRecord) (int64, error) {
	var sum int64
	for _, r := range records {
		q := r.Amount.Quantity
		if q < 0 {
			return 0, violation(CodeNegativeQuantity, "All %s balances must be non-negative, got %s.", code, r.Amount)
		}
		if sum > math.MaxInt64-q {
			return 0, violation(CodeSumMismatch, "The %s values overflow.", code)
		}
		sum += q
	}
	return sum, nil
}
