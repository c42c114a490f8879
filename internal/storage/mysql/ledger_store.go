package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

const (
	insertTransitionSQL = `INSERT INTO transitions
        (tx_id, notary, body, receipt, committed_at)
        VALUES (?, ?, ?, ?, ?)`

	consumeRecordSQL = `UPDATE balance_records SET consumed_by = ?
        WHERE tx_id = ? AND output_index = ? AND consumed_by IS NULL`

	insertRecordSQL = `INSERT INTO balance_records
        (tx_id, output_index, owner_name, owner_key, currency, quantity, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	findBalanceSQL = `SELECT tx_id, output_index, owner_name, owner_key, currency, quantity
        FROM balance_records
        WHERE owner_key = ? AND currency = ? AND consumed_by IS NULL
        ORDER BY created_at, tx_id, output_index LIMIT 1`

	listBalancesSQL = `SELECT tx_id, output_index, owner_name, owner_key, currency, quantity
        FROM balance_records
        WHERE owner_key = ? AND consumed_by IS NULL
        ORDER BY currency, created_at, tx_id, output_index`

	getRecordSQL = `SELECT tx_id, output_index, owner_name, owner_key, currency, quantity, consumed_by
        FROM balance_records WHERE tx_id = ? AND output_index = ?`

	getTransitionSQL = `SELECT body, receipt FROM transitions WHERE tx_id = ?`
)

// SQLLedgerStore 使用 MySQL 存储余额记录与已提交的状态转换。
type SQLLedgerStore struct {
	db *sql.DB
}

// NewSQLLedgerStore 建立连接池并执行内嵌迁移。
func NewSQLLedgerStore(ctx context.Context, cfg Config) (*SQLLedgerStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLLedgerStore{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *SQLLedgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner, extra ...any) (ledger.StateAndRef, error) {
	var (
		txID     string
		index    int
		name     string
		key      string
		currency string
		quantity int64
	)
	dest := append([]any{&txID, &index, &name, &key, &currency, &quantity}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ledger.StateAndRef{}, err
	}
	owner := ledger.Party{Name: name, Key: proofs.PublicKey(key)}
	return ledger.StateAndRef{
		Record: ledger.NewBalanceRecord(owner, ledger.NewAmount(quantity, currency)),
		Ref:    ledger.StateRef{TxID: common.HexToHash(txID), Index: index},
	}, nil
}

// FindBalance 实现 LedgerStore。
func (s *SQLLedgerStore) FindBalance(ctx context.Context, owner proofs.PublicKey, currency string) (ledger.StateAndRef, error) {
	state, err := scanState(s.db.QueryRowContext(ctx, findBalanceSQL, string(owner), currency))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ledger.StateAndRef{}, ErrRecordNotFound
		}
		return ledger.StateAndRef{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询余额记录失败")
	}
	return state, nil
}

// ListBalances 实现 LedgerStore。
func (s *SQLLedgerStore) ListBalances(ctx context.Context, owner proofs.PublicKey) ([]ledger.StateAndRef, error) {
	rows, err := s.db.QueryContext(ctx, listBalancesSQL, string(owner))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询余额列表失败")
	}
	defer rows.Close()

	var out []ledger.StateAndRef
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析余额记录失败")
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历余额记录失败")
	}
	return out, nil
}

// Unconsumed 实现 LedgerStore。
func (s *SQLLedgerStore) Unconsumed(ctx context.Context, ref ledger.StateRef) (ledger.StateAndRef, error) {
	var consumedBy sql.NullString
	state, err := scanState(s.db.QueryRowContext(ctx, getRecordSQL, ref.TxID.Hex(), ref.Index), &consumedBy)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return ledger.StateAndRef{}, ErrRecordNotFound
		}
		return ledger.StateAndRef{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询输入记录失败")
	}
	if consumedBy.Valid {
		return ledger.StateAndRef{}, xerrors.Newf(CodeInputConsumed, "input %s consumed by %s", ref, consumedBy.String)
	}
	return state, nil
}

// Commit 在一个事务内写入转换、消费输入并写入输出。
// 输入通过 consumed_by IS NULL 条件更新，影响行数不为 1 即视为已被消费。
func (s *SQLLedgerStore) Commit(ctx context.Context, stx ledger.SignedTransition, receipt ledger.Receipt) error {
	body, err := json.Marshal(stx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化状态转换失败")
	}
	receiptBody, err := json.Marshal(receipt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化回执失败")
	}
	id := receipt.TxID.Hex()
	committedAt := receipt.CommittedAt.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	if _, err := tx.ExecContext(ctx, insertTransitionSQL, id, receipt.Notary.Name, string(body), string(receiptBody), committedAt); err != nil {
		tx.Rollback()
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateTransition
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入状态转换失败")
	}

	for _, in := range stx.Tx.Inputs {
		res, err := tx.ExecContext(ctx, consumeRecordSQL, id, in.Ref.TxID.Hex(), in.Ref.Index)
		if err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "消费输入记录失败")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
		}
		if affected != 1 {
			tx.Rollback()
			return xerrors.Newf(CodeInputConsumed, "input %s is missing or consumed", in.Ref)
		}
	}

	for i, out := range stx.Tx.Outputs {
		if _, err := tx.ExecContext(ctx, insertRecordSQL,
			id,
			i,
			out.Owner.Name,
			string(out.Owner.Key),
			out.Currency,
			out.Amount.Quantity,
			committedAt,
		); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入输出记录失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// GetTransition 实现 LedgerStore。
func (s *SQLLedgerStore) GetTransition(ctx context.Context, id common.Hash) (Committed, error) {
	var body, receipt string
	if err := s.db.QueryRowContext(ctx, getTransitionSQL, id.Hex()).Scan(&body, &receipt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return Committed{}, xerrors.Newf(xerrors.CodeNotFound, "transition %s not found", id.Hex())
		}
		return Committed{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询状态转换失败")
	}
	var c Committed
	if err := json.Unmarshal([]byte(body), &c.Transition); err != nil {
		return Committed{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析状态转换失败")
	}
	if err := json.Unmarshal([]byte(receipt), &c.Receipt); err != nil {
		return Committed{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回执失败")
	}
	return c, nil
}
