package ledger

import (
	"errors"
	"testing"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/proofs"
)

func testParties(t *testing.T) (Party, Party, Party) {
	t.Helper()
	ks := proofs.NewKeystore()
	mk := func(name string) Party {
		key, err := ks.Generate()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		return Party{Name: name, Key: key}
	}
	return mk("PartyA"), mk("PartyB"), mk("Oracle")
}

func rec(owner Party, qty int64, code string) BalanceRecord {
	return NewBalanceRecord(owner, NewAmount(qty, code))
}

func TestValidateCreate(t *testing.T) {
	a, b, _ := testParties(t)
	cases := []struct {
		name     string
		consumed []BalanceRecord
		produced []BalanceRecord
		signers  []proofs.PublicKey
		code     xerrors.Code
	}{
		{name: "ok", produced: []BalanceRecord{rec(a, 1000, "EUR")}, signers: []proofs.PublicKey{a.Key}},
		{name: "zero balance", produced: []BalanceRecord{rec(a, 0, "EUR")}, signers: []proofs.PublicKey{a.Key}},
		{name: "negative", produced: []BalanceRecord{rec(a, -500, "EUR")}, signers: []proofs.PublicKey{a.Key}, code: CodeNegativeQuantity},
		{name: "consumes input", consumed: []BalanceRecord{rec(a, 0, "EUR")}, produced: []BalanceRecord{rec(a, 10, "EUR")}, signers: []proofs.PublicKey{a.Key}, code: CodeUnexpectedInput},
		{name: "two outputs", produced: []BalanceRecord{rec(a, 1, "EUR"), rec(a, 1, "USD")}, signers: []proofs.PublicKey{a.Key}, code: CodeWrongOutputCount},
		{name: "no outputs", signers: []proofs.PublicKey{a.Key}, code: CodeWrongOutputCount},
		{name: "foreign signer", produced: []BalanceRecord{rec(a, 10, "EUR")}, signers: []proofs.PublicKey{b.Key}, code: CodeSignerMismatch},
		{name: "extra signer", produced: []BalanceRecord{rec(a, 10, "EUR")}, signers: []proofs.PublicKey{a.Key, b.Key}, code: CodeSignerMismatch},
		{name: "no signer", produced: []BalanceRecord{rec(a, 10, "EUR")}, code: CodeSignerMismatch},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.consumed, tc.produced, NewCommand(Create{}, tc.signers...))
			assertCode(t, err, tc.code)
		})
	}
}

func TestValidateDelete(t *testing.T) {
	a, b, _ := testParties(t)
	cases := []struct {
		name     string
		consumed []BalanceRecord
		produced []BalanceRecord
		signers  []proofs.PublicKey
		code     xerrors.Code
	}{
		{name: "ok", consumed: []BalanceRecord{rec(a, 0, "EUR")}, signers: []proofs.PublicKey{a.Key}},
		{name: "non zero", consumed: []BalanceRecord{rec(a, 1000, "EUR")}, signers: []proofs.PublicKey{a.Key}, code: CodeNonZeroBalance},
		{name: "produces output", consumed: []BalanceRecord{rec(a, 0, "EUR")}, produced: []BalanceRecord{rec(a, 0, "EUR")}, signers: []proofs.PublicKey{a.Key}, code: CodeUnexpectedOutput},
		{name: "no input", signers: []proofs.PublicKey{a.Key}, code: CodeEmptyInput},
		{name: "two inputs", consumed: []BalanceRecord{rec(a, 0, "EUR"), rec(a, 0, "USD")}, signers: []proofs.PublicKey{a.Key}, code: CodeWrongInputCount},
		{name: "foreign signer", consumed: []BalanceRecord{rec(a, 0, "EUR")}, signers: []proofs.PublicKey{b.Key}, code: CodeSignerMismatch},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.consumed, tc.produced, NewCommand(Delete{}, tc.signers...))
			assertCode(t, err, tc.code)
		})
	}
}

func TestValidateTransfer(t *testing.T) {
	a, b, o := testParties(t)
	both := []proofs.PublicKey{a.Key, b.Key}
	cases := []struct {
		name     string
		consumed []BalanceRecord
		produced []BalanceRecord
		signers  []proofs.PublicKey
		code     xerrors.Code
	}{
		{
			name:     "ok",
			consumed: []BalanceRecord{rec(a, 1000, "EUR"), rec(b, 200, "EUR")},
			produced: []BalanceRecord{rec(a, 700, "EUR"), rec(b, 500, "EUR")},
			signers:  both,
		},
		{
			name:     "ok two currencies",
			consumed: []BalanceRecord{rec(a, 100, "EUR"), rec(b, 100, "EUR"), rec(a, 50, "USD"), rec(b, 0, "USD")},
			produced: []BalanceRecord{rec(a, 50, "EUR"), rec(b, 150, "EUR"), rec(a, 0, "USD"), rec(b, 50, "USD")},
			signers:  both,
		},
		{
			name:     "sum mismatch",
			consumed: []BalanceRecord{rec(a, 1000, "EUR"), rec(b, 200, "EUR")},
			produced: []BalanceRecord{rec(a, 700, "EUR"), rec(b, 600, "EUR")},
			signers:  both,
			code:     CodeSumMismatch,
		},
		{
			name:     "overdraft",
			consumed: []BalanceRecord{rec(a, 100, "EUR"), rec(b, 0, "EUR")},
			produced: []BalanceRecord{rec(a, -100, "EUR"), rec(b, 200, "EUR")},
			signers:  both,
			code:     CodeNegativeQuantity,
		},
		{
			name:    "no records",
			signers: both,
			code:    CodeEmptyInput,
		},
		{
			name:     "no outputs",
			consumed: []BalanceRecord{rec(a, 100, "EUR")},
			signers:  []proofs.PublicKey{a.Key},
			code:     CodeEmptyOutput,
		},
		{
			name:     "currency without inputs",
			consumed: []BalanceRecord{rec(a, 100, "EUR")},
			produced: []BalanceRecord{rec(a, 100, "EUR"), rec(a, 0, "USD")},
			signers:  []proofs.PublicKey{a.Key},
			code:     CodeEmptyInput,
		},
		{
			name:     "currency without outputs",
			consumed: []BalanceRecord{rec(a, 100, "EUR"), rec(a, 0, "USD")},
			produced: []BalanceRecord{rec(a, 100, "EUR")},
			signers:  []proofs.PublicKey{a.Key},
			code:     CodeEmptyOutput,
		},
		{
			name:     "owner set changes",
			consumed: []BalanceRecord{rec(a, 100, "EUR"), rec(b, 0, "EUR")},
			produced: []BalanceRecord{rec(a, 50, "EUR"), rec(o, 50, "EUR")},
			signers:  []proofs.PublicKey{a.Key, b.Key, o.Key},
			code:     CodeOwnerSetMismatch,
		},
		{
			name:     "missing signer",
			consumed: []BalanceRecord{rec(a, 1000, "EUR"), rec(b, 200, "EUR")},
			produced: []BalanceRecord{rec(a, 700, "EUR"), rec(b, 500, "EUR")},
			signers:  []proofs.PublicKey{a.Key},
			code:     CodeSignerMismatch,
		},
		{
			name:     "extra signer",
			consumed: []BalanceRecord{rec(a, 1000, "EUR"), rec(b, 200, "EUR")},
			produced: []BalanceRecord{rec(a, 700, "EUR"), rec(b, 500, "EUR")},
			signers:  []proofs.PublicKey{a.Key, b.Key, o.Key},
			code:     CodeSignerMismatch,
		},
		{
			name:     "stale currency cache",
			consumed: []BalanceRecord{{Owner: a, Amount: NewAmount(10, "EUR"), Currency: "USD"}},
			produced: []BalanceRecord{rec(a, 10, "EUR")},
			signers:  []proofs.PublicKey{a.Key},
			code:     CodeCurrencyMismatch,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.consumed, tc.produced, NewCommand(Transfer{}, tc.signers...))
			assertCode(t, err, tc.code)
		})
	}
}

func TestTransferFirstViolationIsStable(t *testing.T) {
	a, b, _ := testParties(t)
	consumed := []BalanceRecord{rec(a, 10, "USD"), rec(a, 10, "EUR")}
	produced := []BalanceRecord{rec(b, 10, "USD"), rec(a, 5, "EUR")}
	cmd := NewCommand(Transfer{}, a.Key)
	for i := 0; i < 20; i++ {
		err := Validate(consumed, produced, cmd)
		// EUR sorts first, so its sum mismatch wins over the USD owner change.
		if xerrors.CodeOf(err) != CodeSumMismatch {
			t.Fatalf("iteration %d: expected sum mismatch, got %v", i, err)
		}
	}
}

func TestVerifyTransitionCommandSelection(t *testing.T) {
	a, _, o := testParties(t)
	rate := NewCommand(Rate{Fact: RateFact{From: "EUR", To: "USD"}}, o.Key)
	create := NewCommand(Create{}, a.Key)
	base := Transition{Outputs: []BalanceRecord{rec(a, 100, "EUR")}}

	tx := base
	tx.Commands = []Command{rate}
	assertCode(t, VerifyTransition(tx), CodeMissingCommand)

	tx.Commands = []Command{create, NewCommand(Transfer{}, a.Key)}
	assertCode(t, VerifyTransition(tx), CodeMultipleCommands)

	tx.Commands = []Command{create, rate}
	assertCode(t, VerifyTransition(tx), "")

	assertCode(t, Validate(nil, nil, rate), CodeMissingCommand)
}

func assertCode(t *testing.T, err error, want xerrors.Code) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		return
	}
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := xerrors.CodeOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
	if !IsValidationError(err) {
		t.Fatalf("%s should be a validation error", want)
	}
	if !errors.Is(err, xerrors.New(want, "")) {
		t.Fatalf("errors.Is should match on code %s", want)
	}
}
