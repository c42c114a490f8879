package flow

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/storage/mysql"
	"OpenFX-Ledger/internal/transport"
)

// Vault 查询本方的余额记录。找不到时返回 NOT_FOUND 错误码。
type Vault interface {
	FindBalance(ctx context.Context, owner proofs.PublicKey, currency string) (ledger.StateAndRef, error)
}

// Finalizer 提交完全签名的状态转换。
type Finalizer interface {
	Submit(ctx context.Context, stx ledger.SignedTransition) (ledger.Receipt, error)
}

// Signer 使用本节点持有的私钥签名。
type Signer interface {
	Sign(root common.Hash, key proofs.PublicKey) (proofs.Signature, error)
}

// Resolver 将参与方名称解析为身份。
type Resolver interface {
	WellKnownParty(name string) (ledger.Party, error)
}

// Services 汇总一个参与方运行协调器所需的协作者。
type Services struct {
	Self      ledger.Party
	Vault     Vault
	Signer    Signer
	Finalizer Finalizer
	Transport transport.Transport
	Resolver  Resolver
	Notary    ledger.Party
	// Oracle 为预言机的参与方名称，为空表示不使用汇率证明。
	Oracle string
}

// Result 是一次成功提交的结果。
type Result struct {
	Transition ledger.SignedTransition `json:"transition"`
	Receipt    ledger.Receipt          `json:"receipt"`
}

type settings struct {
	stepTimeout   time.Duration
	quoteCurrency string
	alerts        alerting.Dispatcher
}

// Option 定义协调器的可选配置。
type Option func(*settings)

// WithStepTimeout 设置每个挂起点的超时时间，0 表示不限制。
func WithStepTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.stepTimeout = d
	}
}

// WithQuoteCurrency 设置转账默认的报价币种，非空时转账附带汇率证明。
func WithQuoteCurrency(code string) Option {
	return func(s *settings) {
		s.quoteCurrency = code
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(s *settings) {
		s.alerts = d
	}
}

func newSettings(opts []Option) settings {
	s := settings{stepTimeout: 30 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// within 在单步超时内执行 fn，截止时间到达时统一包装为 TIMEOUT。
func (s settings) within(ctx context.Context, fn func(context.Context) error) error {
	if s.stepTimeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	err := fn(stepCtx)
	if err != nil && stdErrors.Is(stepCtx.Err(), context.DeadlineExceeded) && xerrors.CodeOf(err) != xerrors.CodeTimeout {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "flow step timed out")
	}
	return err
}

// findOwn 查询本方钱包，不存在时返回 FLOW_INSUFFICIENT_RECORD。
func findOwn(ctx context.Context, vault Vault, owner proofs.PublicKey, currency string) (ledger.StateAndRef, error) {
	state, err := vault.FindBalance(ctx, owner, currency)
	if err != nil {
		if stdErrors.Is(err, mysql.ErrRecordNotFound) {
			return ledger.StateAndRef{}, xerrors.Newf(CodeInsufficientRecord, "Personal wallet with currency %s does not exist", currency)
		}
		return ledger.StateAndRef{}, err
	}
	return state, nil
}

func signLocally(signer Signer, stx *ledger.SignedTransition, key proofs.PublicKey) error {
	sig, err := signer.Sign(stx.ID(), key)
	if err != nil {
		return err
	}
	stx.AddSignature(sig)
	return nil
}
