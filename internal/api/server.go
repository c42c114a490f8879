package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"OpenFX-Ledger/internal/auth"
	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/flow"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/metrics"
	"OpenFX-Ledger/internal/oracle"
)

// Wallets 是 API 依赖的节点能力，由 node.Node 实现。
type Wallets interface {
	Party() ledger.Party
	CreateWallet(ctx context.Context, amount string) (flow.Result, error)
	DeleteWallet(ctx context.Context, currency string) (flow.Result, error)
	Transfer(ctx context.Context, req flow.TransferRequest) (flow.Result, error)
	Balances(ctx context.Context) ([]ledger.StateAndRef, error)
	QueryRate(ctx context.Context, from, to string) (ledger.RateFact, error)
	Rates() ([]ledger.RateFact, error)
	SetRates(facts []ledger.RateFact) error
}

// Server 负责暴露 REST 接口，供外部驱动钱包操作。
type Server struct {
	addr    string
	wallets Wallets
	auth    *auth.Service
}

// Option 用于定制 API 服务。
type Option func(*Server)

// WithAuth 为业务路由启用令牌认证，/metrics 不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, wallets Wallets, opts ...Option) *Server {
	s := &Server{addr: addr, wallets: wallets}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/v1/wallets", "wallets", s.handleWallets, map[string][]string{
		http.MethodGet: {auth.PermissionWalletsRead},
		"*":            {auth.PermissionWalletsWrite},
	})
	s.route(mux, "/api/v1/wallets/", "wallet_detail", s.handleWalletDetail, map[string][]string{
		"*": {auth.PermissionWalletsWrite},
	})
	s.route(mux, "/api/v1/transfers", "transfers", s.handleTransfers, map[string][]string{
		"*": {auth.PermissionWalletsWrite},
	})
	s.route(mux, "/api/v1/rates", "rates", s.handleRates, map[string][]string{
		"*": {auth.PermissionRatesRead},
	})
	s.route(mux, "/api/v1/oracle/rates", "oracle_rates", s.handleOracleRates, map[string][]string{
		http.MethodGet: {auth.PermissionRatesRead},
		"*":            {auth.PermissionOracleAdmin},
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) route(mux *http.ServeMux, path, name string, fn http.HandlerFunc, perms map[string][]string) {
	var h http.Handler = fn
	if s.auth != nil {
		h = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: perms,
			AuditEvent:          name,
			OnError:             writeError,
		})(h)
	}
	mux.Handle(path, instrument(name, h.ServeHTTP))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// CreateWalletRequest 是开立钱包的请求体。
type CreateWalletRequest struct {
	Amount string `json:"amount"`
}

// WalletView 是钱包列表中的一项。
type WalletView struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Quantity int64  `json:"quantity"`
	TxID     string `json:"tx_id"`
	Index    int    `json:"index"`
}

// RatesRequest 是替换汇率表的请求体。
type RatesRequest = oracle.RateFile

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateWallet(w, r)
	case http.MethodGet:
		s.handleListWallets(w, r)
	default:
		writeMethodNotAllowed(w, "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	result, err := s.wallets.CreateWallet(r.Context(), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	states, err := s.wallets.Balances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]WalletView, 0, len(states))
	for _, st := range states {
		views = append(views, WalletView{
			Currency: st.Record.Currency,
			Amount:   st.Record.Amount.String(),
			Quantity: st.Record.Amount.Quantity,
			TxID:     st.Ref.TxID.Hex(),
			Index:    st.Ref.Index,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   s.wallets.Party().Name,
		"wallets": views,
	})
}

// handleWalletDetail 处理 DELETE /api/v1/wallets/{currency}。
func (s *Server) handleWalletDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, "仅支持 DELETE")
		return
	}
	currency := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/wallets/"), "/")
	if currency == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少币种"))
		return
	}
	result, err := s.wallets.DeleteWallet(r.Context(), currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, "仅支持 POST")
		return
	}
	var req flow.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.Counterparty) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "counterparty 不能为空"))
		return
	}
	result, err := s.wallets.Transfer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, "仅支持 GET")
		return
	}
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "from 与 to 参数不能为空"))
		return
	}
	fact, err := s.wallets.QueryRate(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

func (s *Server) handleOracleRates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		facts, err := s.wallets.Rates()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rates": facts})
	case http.MethodPut:
		var req RatesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
			return
		}
		facts := make([]ledger.RateFact, 0, len(req.Rates))
		for _, entry := range req.Rates {
			fact, err := entry.Fact()
			if err != nil {
				writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "汇率无效: "+err.Error()))
				return
			}
			facts = append(facts, fact)
		}
		if err := s.wallets.SetRates(facts); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rates": facts})
	default:
		writeMethodNotAllowed(w, "仅支持 GET/PUT")
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
