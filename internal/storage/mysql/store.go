package mysql

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

// 账本存储相关错误码。
const (
	CodeInputConsumed       xerrors.Code = "STORE_INPUT_CONSUMED"
	CodeDuplicateTransition xerrors.Code = "STORE_DUPLICATE_TRANSITION"
)

var (
	// ErrRecordNotFound 表示没有满足条件的未消费余额记录。
	ErrRecordNotFound = xerrors.New(xerrors.CodeNotFound, "balance record not found")
	// ErrInputConsumed 表示输入记录已被其他状态转换消费。
	ErrInputConsumed = xerrors.New(CodeInputConsumed, "input already consumed")
	// ErrDuplicateTransition 表示状态转换已提交过。
	ErrDuplicateTransition = xerrors.New(CodeDuplicateTransition, "transition already committed")
)

func init() {
	xerrors.Register(CodeInputConsumed, xerrors.Attributes{
		Message:  "input already consumed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeDuplicateTransition, xerrors.Attributes{
		Message:  "transition already committed",
		Severity: xerrors.SeverityInfo,
	})
}

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Committed 是一条已提交的状态转换及其回执。
type Committed struct {
	Transition ledger.SignedTransition `json:"transition"`
	Receipt    ledger.Receipt          `json:"receipt"`
}

// LedgerStore 抽象账本的查询与提交。
type LedgerStore interface {
	// FindBalance 返回 owner 在 currency 上最早的一条未消费记录。
	FindBalance(ctx context.Context, owner proofs.PublicKey, currency string) (ledger.StateAndRef, error)
	// ListBalances 返回 owner 的全部未消费记录，按币种排序。
	ListBalances(ctx context.Context, owner proofs.PublicKey) ([]ledger.StateAndRef, error)
	// Unconsumed 返回 ref 指向的记录；记录不存在返回 ErrRecordNotFound，已消费返回 ErrInputConsumed。
	Unconsumed(ctx context.Context, ref ledger.StateRef) (ledger.StateAndRef, error)
	// Commit 原子地消费全部输入并写入全部输出。
	Commit(ctx context.Context, stx ledger.SignedTransition, receipt ledger.Receipt) error
	// GetTransition 查询已提交的状态转换。
	GetTransition(ctx context.Context, id common.Hash) (Committed, error)
	Close() error
}
