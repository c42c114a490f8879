package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"OpenFX-Ledger/internal/api"
	"OpenFX-Ledger/internal/auth"
	"OpenFX-Ledger/internal/config"
	"OpenFX-Ledger/internal/node"
	"OpenFX-Ledger/pkg/logger"
)

// main 是钱包节点守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("fxledgerd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit:       sink(cfg.Logging.Audit),
		Security:    sink(cfg.Logging.Security),
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("刷新日志失败: %v", err)
		}
	}()

	n, err := node.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.L().Error("关闭节点失败", slog.Any("error", err))
		}
	}()

	logger.L().Info("节点已启动",
		slog.String("party", n.Party().Name),
		slog.String("key", n.Party().Key.String()),
		slog.String("address", cfg.Server.Address),
		slog.String("transport", cfg.Transport.Driver),
		slog.String("ledger_store", cfg.Storage.Ledger.Driver))

	nodeCtx, nodeCancel := context.WithCancel(ctx)
	defer nodeCancel()
	go func() {
		if err := n.Run(nodeCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("会话监听异常退出", slog.Any("error", err))
		}
	}()

	guard, err := newAuth(cfg.Server.Auth)
	if err != nil {
		return err
	}
	if guard.Mode() == auth.ModeDisabled {
		logger.L().Warn("API 未配置访问令牌，所有请求都将被放行")
	}

	server := api.NewServer(cfg.Server.Address, n, api.WithAuth(guard))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func sink(cfg config.SinkConfig) logger.SinkConfig {
	return logger.SinkConfig{
		Enabled:    cfg.Enabled,
		Path:       cfg.Path,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}
}

func newAuth(cfg config.AuthConfig) (*auth.Service, error) {
	tokens := make([]auth.Token, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		tokens = append(tokens, auth.Token{
			Subject:     tok.Subject,
			Secret:      tok.SecretValue(),
			Permissions: tok.Permissions,
		})
	}
	return auth.NewService(tokens)
}
