package node

import (
	"context"
	"errors"
	"log/slog"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/finality"
	"OpenFX-Ledger/internal/flow"
	"OpenFX-Ledger/internal/identity"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/oracle"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/storage/mysql"
	"OpenFX-Ledger/internal/transport"
	"OpenFX-Ledger/pkg/logger"
)

const (
	CodeNotOracle   xerrors.Code = "NODE_NOT_ORACLE"
	CodeKeyMismatch xerrors.Code = "NODE_KEY_MISMATCH"
)

// ErrNotOracle 表示本节点未启用预言机服务。
var ErrNotOracle = xerrors.New(CodeNotOracle, "this node does not serve rates")

func init() {
	xerrors.Register(CodeNotOracle, xerrors.Attributes{
		Message:  "this node does not serve rates",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeKeyMismatch, xerrors.Attributes{
		Message:  "node key does not match the network map",
		Severity: xerrors.SeverityCritical,
	})
}

// Settings 描述节点的角色与协调器参数。
type Settings struct {
	Notary      string
	Oracle      string
	ServeOracle bool
	Rates       []ledger.RateFact
	FlowOptions []flow.Option
}

// Components 是节点依赖的外部资源，由调用方负责创建。
type Components struct {
	Keys      *proofs.Keystore
	Directory *identity.Directory
	Store     mysql.LedgerStore
	Transport transport.Transport
	Alerts    alerting.Dispatcher
}

// Node 汇总一个参与方的协调器、应答方以及可选的公证与预言机服务。
type Node struct {
	self      ledger.Party
	comp      Components
	notary    *finality.Notary
	oracle    *oracle.Service
	create    *flow.CreateCoordinator
	delete    *flow.DeleteCoordinator
	transfer  *flow.TransferCoordinator
	oracleFor string
	handlers  map[string]transport.Handler
	log       *slog.Logger
}

// Assemble 以 self 的身份组装节点。self 会登记到目录中，目录里同名的参与方必须持有相同的公钥。
func Assemble(self ledger.Party, comp Components, s Settings) (*Node, error) {
	if !comp.Keys.Has(self.Key) {
		return nil, xerrors.Newf(CodeKeyMismatch, "keystore does not hold the key of %s", self)
	}
	if known, err := comp.Directory.WellKnownParty(self.Name); err == nil && known.Key != self.Key {
		return nil, xerrors.Newf(CodeKeyMismatch, "network map lists %s with key %s", self.Name, known.Key.Short())
	}
	comp.Directory.Register(self)

	n := &Node{
		self:      self,
		comp:      comp,
		oracleFor: s.Oracle,
		handlers:  make(map[string]transport.Handler),
		log:       logger.Named("node").With(slog.String("party", self.Name)),
	}

	notaryParty, err := comp.Directory.WellKnownParty(s.Notary)
	if err != nil {
		return nil, err
	}
	var finalizer flow.Finalizer
	if notaryParty.Key == self.Key {
		n.notary = finality.NewNotary(self, comp.Keys, comp.Store, comp.Alerts)
		n.handlers[finality.ProtocolSubmit] = n.notary.Handle
		finalizer = n.notary
	} else {
		finalizer = finality.NewClient(comp.Transport, self.Name, notaryParty)
	}

	if s.ServeOracle {
		var table *oracle.RateTable
		if len(s.Rates) > 0 {
			table = oracle.NewRateTable(s.Rates)
		}
		n.oracle = oracle.NewService(self, comp.Keys, table, comp.Alerts)
		for protocol, h := range n.oracle.Handlers() {
			n.handlers[protocol] = h
		}
		n.oracleFor = self.Name
	}

	svc := flow.Services{
		Self:      self,
		Vault:     comp.Store,
		Signer:    comp.Keys,
		Finalizer: finalizer,
		Transport: comp.Transport,
		Resolver:  comp.Directory,
		Notary:    notaryParty,
		Oracle:    n.oracleFor,
	}
	opts := append([]flow.Option{flow.WithAlertDispatcher(comp.Alerts)}, s.FlowOptions...)
	n.create = flow.NewCreateCoordinator(svc, opts...)
	n.delete = flow.NewDeleteCoordinator(svc, opts...)
	n.transfer = flow.NewTransferCoordinator(svc, opts...)
	n.handlers[flow.ProtocolTransfer] = flow.NewTransferResponder(svc, opts...).Handle
	return n, nil
}

// Party 返回本节点的身份。
func (n *Node) Party() ledger.Party { return n.self }

// Protocols 返回本节点应答的会话协议。
func (n *Node) Protocols() []string {
	out := make([]string, 0, len(n.handlers))
	for p := range n.handlers {
		out = append(out, p)
	}
	return out
}

// Run 监听入站会话并按协议分发，直到 ctx 结束。
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("节点开始监听", slog.Int("protocols", len(n.handlers)), slog.Bool("notary", n.notary != nil), slog.Bool("oracle", n.oracle != nil))
	return n.comp.Transport.Listen(ctx, n.self.Name, n.dispatch)
}

func (n *Node) dispatch(ctx context.Context, sess transport.Session) error {
	h, ok := n.handlers[sess.Protocol()]
	if !ok {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "%s does not serve protocol %q", n.self.Name, sess.Protocol())
	}
	return h(ctx, sess)
}

// CreateWallet 开立钱包。
func (n *Node) CreateWallet(ctx context.Context, amount string) (flow.Result, error) {
	return n.create.Run(ctx, amount)
}

// DeleteWallet 注销钱包。
func (n *Node) DeleteWallet(ctx context.Context, currency string) (flow.Result, error) {
	return n.delete.Run(ctx, currency)
}

// Transfer 发起转账。
func (n *Node) Transfer(ctx context.Context, req flow.TransferRequest) (flow.Result, error) {
	return n.transfer.Run(ctx, req)
}

// Balances 列出本方未消费的钱包记录。
func (n *Node) Balances(ctx context.Context) ([]ledger.StateAndRef, error) {
	return n.comp.Store.ListBalances(ctx, n.self.Key)
}

// QueryRate 查询汇率：本节点是预言机时直接查表，否则通过传输层询问预言机。
func (n *Node) QueryRate(ctx context.Context, from, to string) (ledger.RateFact, error) {
	var err error
	of := ledger.RateOf{}
	if of.From, err = ledger.ParseCurrency(from); err != nil {
		return ledger.RateFact{}, err
	}
	if of.To, err = ledger.ParseCurrency(to); err != nil {
		return ledger.RateFact{}, err
	}
	if n.oracle != nil {
		return n.oracle.Query(of)
	}
	if n.oracleFor == "" {
		return ledger.RateFact{}, xerrors.New(xerrors.CodeInvalidArgument, "no oracle is configured")
	}
	o, err := n.comp.Directory.WellKnownParty(n.oracleFor)
	if err != nil {
		return ledger.RateFact{}, err
	}
	return flow.QueryRate(ctx, n.comp.Transport, n.self.Name, o, of)
}

// Rates 返回本节点预言机的汇率表。
func (n *Node) Rates() ([]ledger.RateFact, error) {
	if n.oracle == nil {
		return nil, ErrNotOracle
	}
	return n.oracle.Rates(), nil
}

// SetRates 整体替换本节点预言机的汇率表。
func (n *Node) SetRates(facts []ledger.RateFact) error {
	if n.oracle == nil {
		return ErrNotOracle
	}
	return n.oracle.SetRates(facts)
}

// Close 释放传输与存储资源。
func (n *Node) Close() error {
	var errs []error
	if err := n.comp.Transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.comp.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
