package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

var (
	alice  = ledger.Party{Name: "PartyA", Key: proofs.PublicKey("0x02aa")}
	bob    = ledger.Party{Name: "PartyB", Key: proofs.PublicKey("0x02bb")}
	notary = ledger.Party{Name: "Notary", Key: proofs.PublicKey("0x02cc")}
)

func committed(tx ledger.Transition) (ledger.SignedTransition, ledger.Receipt) {
	stx := ledger.SignedTransition{Tx: tx}
	return stx, ledger.Receipt{TxID: tx.ID(), Notary: notary, CommittedAt: time.UnixMilli(1700000000000).UTC()}
}

func createTx(owner ledger.Party, qty int64, currency string) ledger.Transition {
	return ledger.Transition{
		Outputs:  []ledger.BalanceRecord{ledger.NewBalanceRecord(owner, ledger.NewAmount(qty, currency))},
		Commands: []ledger.Command{ledger.NewCommand(ledger.Create{}, owner.Key)},
		Notary:   notary,
	}
}

func transferTx(inputs []ledger.StateAndRef, outputs ...ledger.BalanceRecord) ledger.Transition {
	return ledger.Transition{
		Inputs:   inputs,
		Outputs:  outputs,
		Commands: []ledger.Command{ledger.NewCommand(ledger.Transfer{}, alice.Key, bob.Key)},
		Notary:   notary,
	}
}

func TestMemoryLedgerStoreCommitAndQuery(t *testing.T) {
	t.Parallel()

	store, err := NewMemoryLedgerStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.FindBalance(ctx, alice.Key, "EUR"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}

	aliceTx := createTx(alice, 1000, "EUR")
	if err := store.Commit(committedPair(aliceTx)); err != nil {
		t.Fatalf("commit alice create: %v", err)
	}
	bobTx := createTx(bob, 500, "EUR")
	if err := store.Commit(committedPair(bobTx)); err != nil {
		t.Fatalf("commit bob create: %v", err)
	}
	if err := store.Commit(committedPair(aliceTx)); !errors.Is(err, ErrDuplicateTransition) {
		t.Fatalf("expected duplicate transition, got %v", err)
	}

	aliceEUR, err := store.FindBalance(ctx, alice.Key, "EUR")
	if err != nil {
		t.Fatalf("find alice: %v", err)
	}
	if aliceEUR.Ref.TxID != aliceTx.ID() || aliceEUR.Record.Amount.Quantity != 1000 {
		t.Fatalf("unexpected record %+v", aliceEUR)
	}
	bobEUR, err := store.FindBalance(ctx, bob.Key, "EUR")
	if err != nil {
		t.Fatalf("find bob: %v", err)
	}

	move := transferTx([]ledger.StateAndRef{aliceEUR, bobEUR},
		aliceEUR.Record.WithQuantity(900), bobEUR.Record.WithQuantity(600))
	if err := store.Commit(committedPair(move)); err != nil {
		t.Fatalf("commit transfer: %v", err)
	}

	if _, err := store.Unconsumed(ctx, aliceEUR.Ref); xerrors.CodeOf(err) != CodeInputConsumed {
		t.Fatalf("expected consumed input, got %v", err)
	}
	replay := transferTx([]ledger.StateAndRef{aliceEUR}, aliceEUR.Record)
	if err := store.Commit(committedPair(replay)); xerrors.CodeOf(err) != CodeInputConsumed {
		t.Fatalf("expected double spend to be refused, got %v", err)
	}

	balances, err := store.ListBalances(ctx, alice.Key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(balances) != 1 || balances[0].Record.Amount.Quantity != 900 || balances[0].Ref.TxID != move.ID() {
		t.Fatalf("unexpected balances %+v", balances)
	}

	got, err := store.GetTransition(ctx, move.ID())
	if err != nil {
		t.Fatalf("get transition: %v", err)
	}
	if got.Receipt.TxID != move.ID() || len(got.Transition.Tx.Inputs) != 2 {
		t.Fatalf("unexpected committed transition %+v", got)
	}
}

func committedPair(tx ledger.Transition) (context.Context, ledger.SignedTransition, ledger.Receipt) {
	stx, receipt := committed(tx)
	return context.Background(), stx, receipt
}

func TestMemoryLedgerStoreReplaysFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewMemoryLedgerStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tx := createTx(alice, 250, "GBP")
	if err := store.Commit(committedPair(tx)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	restored, err := NewMemoryLedgerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, err := restored.FindBalance(context.Background(), alice.Key, "GBP")
	if err != nil {
		t.Fatalf("find after replay: %v", err)
	}
	if rec.Ref.TxID != tx.ID() || rec.Record.Amount.Quantity != 250 {
		t.Fatalf("unexpected replayed record %+v", rec)
	}
}

func TestMemoryLedgerStoreFailedWriteLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewMemoryLedgerStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logPath := filepath.Join(dir, "ledger.log")
	if err := os.Remove(logPath); err != nil {
		t.Fatalf("remove log: %v", err)
	}
	if err := os.Mkdir(logPath, 0o755); err != nil {
		t.Fatalf("replace log with directory: %v", err)
	}

	tx := createTx(alice, 10000, "EUR")
	if err := store.Commit(committedPair(tx)); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if _, err := store.FindBalance(context.Background(), alice.Key, "EUR"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("failed commit must not create outputs, got %v", err)
	}
	if _, err := store.GetTransition(context.Background(), tx.ID()); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("failed commit must not record the transition, got %v", err)
	}

	if err := os.Remove(logPath); err != nil {
		t.Fatalf("restore log: %v", err)
	}
	if err := store.Commit(committedPair(tx)); err != nil {
		t.Fatalf("retry after restoring the log: %v", err)
	}
}

func TestSQLLedgerStoreCommit(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertTransitionSQL, mockResult{rowsAffected: 1}),
		execOp(consumeRecordSQL, mockResult{rowsAffected: 1}),
		execOp(insertRecordSQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &SQLLedgerStore{db: db}
	in := ledger.StateAndRef{Record: ledger.NewBalanceRecord(alice, ledger.NewAmount(100, "EUR"))}
	tx := transferTx([]ledger.StateAndRef{in}, in.Record.WithQuantity(100))
	if err := store.Commit(committedPair(tx)); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestSQLLedgerStoreCommitRefusals(t *testing.T) {
	t.Parallel()

	in := ledger.StateAndRef{Record: ledger.NewBalanceRecord(alice, ledger.NewAmount(100, "EUR"))}
	tx := transferTx([]ledger.StateAndRef{in}, in.Record)

	t.Run("consumed input", func(t *testing.T) {
		db, drv := newMockDB(t, []mockOperation{
			beginOp(),
			execOp(insertTransitionSQL, mockResult{rowsAffected: 1}),
			execOp(consumeRecordSQL, mockResult{rowsAffected: 0}),
			rollbackOp(),
		})
		defer drv.assertConsumed(t)
		defer db.Close()

		store := &SQLLedgerStore{db: db}
		if err := store.Commit(committedPair(tx)); !errors.Is(err, ErrInputConsumed) {
			t.Fatalf("expected consumed input, got %v", err)
		}
	})

	t.Run("duplicate transition", func(t *testing.T) {
		dup := execOp(insertTransitionSQL, mockResult{})
		dup.err = &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
		db, drv := newMockDB(t, []mockOperation{beginOp(), dup, rollbackOp()})
		defer drv.assertConsumed(t)
		defer db.Close()

		store := &SQLLedgerStore{db: db}
		if err := store.Commit(committedPair(tx)); !errors.Is(err, ErrDuplicateTransition) {
			t.Fatalf("expected duplicate transition, got %v", err)
		}
	})
}

func TestSQLLedgerStoreQueries(t *testing.T) {
	t.Parallel()

	txID := "0x" + strings.Repeat("ab", 32)
	columns := []string{"tx_id", "output_index", "owner_name", "owner_key", "currency", "quantity"}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(findBalanceSQL, mockRowsData{columns: columns, values: [][]driver.Value{
			{txID, int64(1), "PartyA", "0x02aa", "EUR", int64(1050)},
		}}),
		queryOp(findBalanceSQL, mockRowsData{columns: columns}),
		queryOp(listBalancesSQL, mockRowsData{columns: columns, values: [][]driver.Value{
			{txID, int64(0), "PartyA", "0x02aa", "EUR", int64(10)},
			{txID, int64(2), "PartyA", "0x02aa", "GBP", int64(20)},
		}}),
		queryOp(getRecordSQL, mockRowsData{
			columns: append(append([]string{}, columns...), "consumed_by"),
			values:  [][]driver.Value{{txID, int64(1), "PartyA", "0x02aa", "EUR", int64(1050), txID}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &SQLLedgerStore{db: db}
	ctx := context.Background()

	rec, err := store.FindBalance(ctx, alice.Key, "EUR")
	if err != nil {
		t.Fatalf("find balance: %v", err)
	}
	if rec.Ref.Index != 1 || rec.Ref.TxID.Hex() != txID || rec.Record.Amount.Quantity != 1050 || rec.Record.Currency != "EUR" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Record.Owner != alice {
		t.Fatalf("unexpected owner %+v", rec.Record.Owner)
	}

	if _, err := store.FindBalance(ctx, alice.Key, "USD"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := store.ListBalances(ctx, alice.Key)
	if err != nil {
		t.Fatalf("list balances: %v", err)
	}
	if len(list) != 2 || list[1].Record.Currency != "GBP" {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := store.Unconsumed(ctx, rec.Ref); !errors.Is(err, ErrInputConsumed) {
		t.Fatalf("expected consumed, got %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
	}
	for _, stmt := range readMigrationStatements(t, "0001_ledger.sql") {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	if _, err := openDatabase(context.Background(), Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func readMigrationStatements(t *testing.T, name string) []string {
	t.Helper()
	content, err := embeddedMigrations.ReadFile(name)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in %s", name)
	}
	return statements
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-ledger-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
