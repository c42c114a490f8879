package ledger

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"OpenFX-Ledger/internal/proofs"
)

func sampleTransfer(t *testing.T) (Transition, Party, Party, Party) {
	t.Helper()
	a, b, o := testParties(t)
	tx := Transition{
		Inputs: []StateAndRef{
			{Record: rec(a, 1000, "EUR"), Ref: StateRef{TxID: common.HexToHash("0x01"), Index: 0}},
			{Record: rec(b, 200, "EUR"), Ref: StateRef{TxID: common.HexToHash("0x02"), Index: 0}},
		},
		Outputs: []BalanceRecord{rec(a, 700, "EUR"), rec(b, 500, "EUR")},
		Commands: []Command{
			NewCommand(Transfer{}, a.Key, b.Key),
			NewCommand(Rate{Fact: RateFact{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.5")}}, o.Key),
		},
		Notary:      Party{Name: "Notary", Key: o.Key},
		PrivacySalt: common.HexToHash("0x5a17"),
	}
	return tx, a, b, o
}

func TestTransitionIDStableAcrossJSON(t *testing.T) {
	tx, _, _, _ := sampleTransfer(t)
	id := tx.ID()

	raw, err := json.Marshal(SignedTransition{Tx: tx})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded SignedTransition
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID() != id {
		t.Fatalf("id changed after transport: %s vs %s", decoded.ID().Hex(), id.Hex())
	}
	if _, ok := decoded.Tx.Commands[1].Value.(Rate); !ok {
		t.Fatalf("rate intent lost: %#v", decoded.Tx.Commands[1].Value)
	}

	tx.Outputs[1] = rec(tx.Outputs[1].Owner, 501, "EUR")
	if tx.ID() == id {
		t.Fatal("changing an output must change the id")
	}
}

func TestRequiredSignersAndSignatures(t *testing.T) {
	tx, a, _, _ := sampleTransfer(t)
	if got := tx.RequiredSigners(); len(got) != 3 {
		t.Fatalf("expected 3 required signers, got %d", len(got))
	}

	ks := proofs.NewKeystore()
	key, err := ks.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	stx := SignedTransition{Tx: tx}
	root := stx.ID()
	if missing := stx.MissingSigners(root); len(missing) != 3 {
		t.Fatalf("expected all signers missing, got %d", len(missing))
	}

	stranger, err := ks.Sign(root, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	stx.AddSignature(stranger)
	if bad := stx.InvalidSignatures(root); len(bad) != 0 {
		t.Fatalf("valid stranger signature reported invalid: %v", bad)
	}
	stx.AddSignature(proofs.Signature{By: a.Key, Bytes: stranger.Bytes})
	if bad := stx.InvalidSignatures(root); len(bad) != 1 || bad[0] != a.Key {
		t.Fatalf("expected forged signature of %s to be invalid, got %v", a.Key.Short(), bad)
	}
	if missing := stx.MissingSigners(root); len(missing) != 3 {
		t.Fatalf("forged signature must not count, got %d missing", len(missing))
	}
}

func TestOracleFilterRevealsOnlyRateCommand(t *testing.T) {
	tx, a, _, o := sampleTransfer(t)
	view := proofs.Filter(tx.FullView(), OracleFilter(o.Key))
	if _, err := proofs.Verify(view); err != nil {
		t.Fatalf("verify: %v", err)
	}
	revealed := view.Revealed(proofs.GroupCommands)
	if len(revealed) != 1 || revealed[0].Index != 1 {
		t.Fatalf("expected only command 1 revealed, got %+v", revealed)
	}
	cmd, err := DecodeCommand(revealed[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r, ok := cmd.Value.(Rate); !ok || !r.Fact.Rate.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected revealed command %#v", cmd.Value)
	}
	if err := proofs.CheckLeafVisibility(view, o.Key); err != nil {
		t.Fatalf("oracle visibility: %v", err)
	}
	if err := proofs.CheckLeafVisibility(view, a.Key); err == nil {
		t.Fatal("the owner's transfer command is hidden, the visibility check must fail for its key")
	}
	for _, l := range view.Leaves {
		if l.Revealed && l.Group != proofs.GroupCommands && l.Group != proofs.GroupSigners {
			t.Fatalf("leaf of group %s should be hidden", l.Group)
		}
	}
}

func TestDecodeCommandRejectsMalformedPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"unknown kind":      `{"kind":"mint","signers":[]}`,
		"rate without fact": `{"kind":"rate","signers":[]}`,
		"truncated":         `{"kind":`,
	} {
		if _, err := DecodeCommand([]byte(payload)); !errors.Is(err, ErrMalformedCommand) {
			t.Fatalf("%s: expected malformed command, got %v", name, err)
		}
	}
}
