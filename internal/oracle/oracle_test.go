package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/transport"
)

type recordingDispatcher struct {
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e alerting.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	keys   *proofs.Keystore
	oracle ledger.Party
	alice  ledger.Party
	bob    ledger.Party
	notary ledger.Party
	alerts *recordingDispatcher
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{keys: proofs.NewKeystore(), alerts: &recordingDispatcher{}}
	party := func(name string) ledger.Party {
		key, err := f.keys.Generate()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		return ledger.Party{Name: name, Key: key}
	}
	f.oracle = party("Oracle")
	f.alice = party("PartyA")
	f.bob = party("PartyB")
	f.notary = party("Notary")
	f.svc = NewService(f.oracle, f.keys, NewRateTable(DefaultRates()), f.alerts)
	return f
}

func (f *fixture) transition(t *testing.T, rates ...ledger.RateFact) ledger.Transition {
	t.Helper()
	salt, err := proofs.NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	in := ledger.NewBalanceRecord(f.alice, ledger.NewAmount(1000, "EUR"))
	out := ledger.NewBalanceRecord(f.bob, ledger.NewAmount(1000, "EUR"))
	tx := ledger.Transition{
		Inputs:      []ledger.StateAndRef{{Record: in}},
		Outputs:     []ledger.BalanceRecord{out},
		Commands:    []ledger.Command{ledger.NewCommand(ledger.Transfer{}, f.alice.Key, f.bob.Key)},
		Notary:      f.notary,
		PrivacySalt: salt,
	}
	for _, fact := range rates {
		tx.Commands = append(tx.Commands, ledger.NewCommand(ledger.Rate{Fact: fact}, f.oracle.Key))
	}
	return tx
}

func eurUSD(rate string) ledger.RateFact {
	return ledger.RateFact{From: "EUR", To: "USD", Rate: decimal.RequireFromString(rate)}
}

func TestSignAcceptsMatchingRate(t *testing.T) {
	f := newFixture(t)
	tx := f.transition(t, eurUSD("1.50"))
	full := tx.FullView()
	view := proofs.Filter(full, ledger.OracleFilter(f.oracle.Key))

	sig, err := f.svc.Sign(context.Background(), view)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig.By != f.oracle.Key || !sig.Verify(tx.ID()) {
		t.Fatalf("signature does not verify over transition id")
	}
	if len(f.alerts.events) != 0 {
		t.Fatalf("unexpected alerts: %+v", f.alerts.events)
	}
}

func TestSignRefusals(t *testing.T) {
	cases := []struct {
		name  string
		view  func(f *fixture, t *testing.T) proofs.FilteredView
		code  xerrors.Code
		alert bool
	}{
		{
			name: "rate differs from table",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				return proofs.Filter(f.transition(t, eurUSD("1.6")).FullView(), ledger.OracleFilter(f.oracle.Key))
			},
			code: CodeUnexpectedCommand,
		},
		{
			name: "unknown pair",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				fact := ledger.RateFact{From: "JPY", To: "CHF", Rate: decimal.RequireFromString("0.006")}
				return proofs.Filter(f.transition(t, fact).FullView(), ledger.OracleFilter(f.oracle.Key))
			},
			code: CodeUnexpectedCommand,
		},
		{
			name: "transfer command revealed",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				return proofs.Filter(f.transition(t, eurUSD("1.5")).FullView(), func(l proofs.Leaf) bool {
					return l.Group == proofs.GroupCommands
				})
			},
			code: CodeUnexpectedCommand,
		},
		{
			name: "outputs revealed",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				keep := ledger.OracleFilter(f.oracle.Key)
				return proofs.Filter(f.transition(t, eurUSD("1.5")).FullView(), func(l proofs.Leaf) bool {
					return keep(l) || l.Group == proofs.GroupOutputs
				})
			},
			code: CodeUnexpectedCommand,
		},
		{
			name: "nothing revealed",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				return proofs.Filter(f.transition(t).FullView(), ledger.OracleFilter(f.oracle.Key))
			},
			code: CodeUnexpectedCommand,
		},
		{
			name: "second oracle command hidden",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				tx := f.transition(t, eurUSD("1.5"), ledger.RateFact{From: "EUR", To: "GBP", Rate: decimal.RequireFromString("0.8")})
				return proofs.Filter(tx.FullView(), func(l proofs.Leaf) bool {
					return l.Group == proofs.GroupCommands && l.Index == 1
				})
			},
			code:  proofs.CodeHiddenSignerCommand,
			alert: true,
		},
		{
			name: "tampered rate",
			view: func(f *fixture, t *testing.T) proofs.FilteredView {
				view := proofs.Filter(f.transition(t, eurUSD("1.6")).FullView(), ledger.OracleFilter(f.oracle.Key))
				forged, err := ledger.NewCommand(ledger.Rate{Fact: eurUSD("1.5")}, f.oracle.Key).MarshalJSON()
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				for i, l := range view.Leaves {
					if l.Group == proofs.GroupCommands && l.Revealed {
						view.Leaves[i].Payload = forged
					}
				}
				return view
			},
			code:  proofs.CodeIntegrity,
			alert: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Sign(context.Background(), tc.view(f, t))
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if alerted := len(f.alerts.events) > 0; alerted != tc.alert {
				t.Fatalf("alert dispatched = %v, want %v", alerted, tc.alert)
			}
		})
	}
}

func TestQueryAndSetRates(t *testing.T) {
	f := newFixture(t)
	fact, err := f.svc.Query(ledger.RateOf{From: "GBP", To: "EUR"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !fact.Rate.Equal(decimal.RequireFromString("1.2")) {
		t.Fatalf("unexpected rate %s", fact)
	}
	if _, err := f.svc.Query(ledger.RateOf{From: "EUR", To: "JPY"}); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected rate not found, got %v", err)
	}

	if err := f.svc.SetRates(nil); !errors.Is(err, ErrEmptyRates) {
		t.Fatalf("expected empty rates error, got %v", err)
	}
	if len(f.svc.Rates()) != 4 {
		t.Fatalf("failed replace must keep the table")
	}
	if err := f.svc.SetRates([]ledger.RateFact{{From: "EUR", To: "JPY", Rate: decimal.Zero}}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for zero rate, got %v", err)
	}
	if err := f.svc.SetRates([]ledger.RateFact{{From: "EUR", To: "JPY", Rate: decimal.RequireFromString("161.2")}}); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	if _, err := f.svc.Query(ledger.RateOf{From: "GBP", To: "EUR"}); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("replace should drop old rows, got %v", err)
	}
	snapshot := f.svc.Rates()
	if len(snapshot) != 1 || snapshot[0].To != "JPY" {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
}

func TestLoadRates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	content := "rates:\n  - from: eur\n    to: USD\n    rate: \"1.0845\"\n  - from: USD\n    to: EUR\n    rate: \"0.9221\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	facts, err := LoadRates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(facts) != 2 || facts[0].From != "EUR" || !facts[0].Rate.Equal(decimal.RequireFromString("1.0845")) {
		t.Fatalf("unexpected facts %v", facts)
	}

	defaults, err := LoadRates("")
	if err != nil || len(defaults) != 4 {
		t.Fatalf("expected defaults, got %v %v", defaults, err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rates:\n  - from: EUR\n    to: USD\n    rate: abc\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRates(bad); err == nil {
		t.Fatal("expected parse error for bad rate")
	}
}

func TestHandlersOverTransport(t *testing.T) {
	f := newFixture(t)
	tr := transport.New(transport.NewMemoryMailbox(16))
	handlers := f.svc.Handlers()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Listen(ctx, f.oracle.Name, func(ctx context.Context, s transport.Session) error {
			return handlers[s.Protocol()](ctx, s)
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	query, err := tr.Initiate(callCtx, f.alice.Name, f.oracle.Name, ProtocolQuery)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := query.Send(callCtx, QueryRequest{Of: ledger.RateOf{From: "EUR", To: "USD"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var resp QueryResponse
	if err := query.Receive(callCtx, &resp); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !resp.Fact.Equal(eurUSD("1.5")) {
		t.Fatalf("unexpected fact %s", resp.Fact)
	}

	missing, err := tr.Initiate(callCtx, f.alice.Name, f.oracle.Name, ProtocolQuery)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := missing.Send(callCtx, QueryRequest{Of: ledger.RateOf{From: "USD", To: "GBP"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := missing.Receive(callCtx, &resp); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected propagated rate not found, got %v", err)
	}

	tx := f.transition(t, eurUSD("1.5"))
	sign, err := tr.Initiate(callCtx, f.alice.Name, f.oracle.Name, ProtocolSign)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := sign.Send(callCtx, SignRequest{View: proofs.Filter(tx.FullView(), ledger.OracleFilter(f.oracle.Key))}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var signed SignResponse
	if err := sign.Receive(callCtx, &signed); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !proofs.VerifySignature(signed.Signature, tx.ID(), f.oracle.Key) {
		t.Fatal("oracle signature does not verify")
	}
}

func TestRatesReplacedWhileServing(t *testing.T) {
	f := newFixture(t)
	gbpEUR := func(rate string) ledger.RateFact {
		return ledger.RateFact{From: "GBP", To: "EUR", Rate: decimal.RequireFromString(rate)}
	}
	tables := [2][]ledger.RateFact{
		{eurUSD("1.50"), gbpEUR("1.20")},
		{eurUSD("1.60"), gbpEUR("1.30")},
	}
	svc := NewService(f.oracle, f.keys, NewRateTable(tables[0]), nil)
	view := proofs.Filter(f.transition(t, eurUSD("1.50")).FullView(), ledger.OracleFilter(f.oracle.Key))

	const rounds = 200
	var wg sync.WaitGroup
	errs := make(chan error, 4*rounds)
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < rounds; i++ {
			if err := svc.SetRates(tables[i%2]); err != nil {
				errs <- err
				return
			}
		}
	}()

	reader := func(read func() error) {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := read(); err != nil {
				errs <- err
				return
			}
		}
	}
	wg.Add(3)
	go reader(func() error {
		fact, err := svc.Query(ledger.RateOf{From: "EUR", To: "USD"})
		if err != nil {
			return err
		}
		if !fact.Equal(eurUSD("1.50")) && !fact.Equal(eurUSD("1.60")) {
			return errors.New("query returned a rate from neither table: " + fact.String())
		}
		return nil
	})
	go reader(func() error {
		snap := svc.Rates()
		if len(snap) != 2 {
			return errors.New("snapshot has the wrong size")
		}
		for _, table := range tables {
			if sameRates(snap, table) {
				return nil
			}
		}
		return errors.New("snapshot mixes two tables")
	})
	go reader(func() error {
		_, err := svc.Sign(context.Background(), view)
		if err != nil && !errors.Is(err, ErrUnexpectedCommand) {
			return err
		}
		return nil
	})

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func sameRates(got, want []ledger.RateFact) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !got[i].Equal(want[i]) {
			return false
		}
	}
	return true
}
