package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"OpenFX-Ledger/internal/config"
	"OpenFX-Ledger/internal/flow"
	"OpenFX-Ledger/internal/identity"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/observability/alerting"
	"OpenFX-Ledger/internal/oracle"
	"OpenFX-Ledger/internal/proofs"
	"OpenFX-Ledger/internal/storage/mysql"
	"OpenFX-Ledger/internal/transport"
)

// Build 按配置创建存储、传输、密钥与目录，并组装节点。
func Build(ctx context.Context, cfg *config.Config) (*Node, error) {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	keys := proofs.NewKeystore()
	var key proofs.PublicKey
	var err error
	if hexKey := cfg.Node.PrivateKeyHex(); hexKey != "" {
		key, err = keys.ImportHex(hexKey)
	} else {
		key, err = keys.Generate()
	}
	if err != nil {
		return nil, fmt.Errorf("加载节点私钥失败: %w", err)
	}

	nm, err := identity.LoadNetworkMap(cfg.Network.Directory)
	if err != nil {
		return nil, err
	}
	dir, err := identity.FromNetworkMap(nm)
	if err != nil {
		return nil, err
	}

	var rates []ledger.RateFact
	if cfg.Oracle.Enabled {
		if rates, err = oracle.LoadRates(cfg.Oracle.RatesFile); err != nil {
			return nil, err
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tr, err := openTransport(ctx, cfg.Transport)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	n, err := Assemble(ledger.Party{Name: cfg.Node.Name, Key: key}, Components{
		Keys:      keys,
		Directory: dir,
		Store:     store,
		Transport: tr,
		Alerts:    NewDispatcher(cfg.Alerting),
	}, Settings{
		Notary:      cfg.Network.Notary,
		Oracle:      cfg.Network.Oracle,
		ServeOracle: cfg.Oracle.Enabled,
		Rates:       rates,
		FlowOptions: []flow.Option{
			flow.WithStepTimeout(cfg.Flow.StepTimeout()),
			flow.WithQuoteCurrency(cfg.Flow.QuoteCurrency),
		},
	})
	if err != nil {
		_ = tr.Close()
		_ = store.Close()
		return nil, err
	}
	return n, nil
}

func openStore(ctx context.Context, cfg *config.Config) (mysql.LedgerStore, error) {
	ledgerCfg := cfg.Storage.Ledger
	switch ledgerCfg.Driver {
	case "memory", "":
		return mysql.NewMemoryLedgerStore(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLLedgerStore(ctx, mysql.Config{
			DSN:             ledgerCfg.DSN,
			MaxOpenConns:    ledgerCfg.MaxOpenConns,
			MaxIdleConns:    ledgerCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(ledgerCfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(ledgerCfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的账本存储驱动: %s", ledgerCfg.Driver)
	}
}

func openTransport(ctx context.Context, cfg config.TransportConfig) (*transport.MailboxTransport, error) {
	var box transport.Mailbox
	switch cfg.Driver {
	case "memory", "":
		box = transport.NewMemoryMailbox(cfg.MailboxSize)
	case "redis":
		mailbox, err := transport.NewRedisMailbox(ctx, transport.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Prefix:    cfg.Redis.Prefix,
			BlockWait: time.Duration(cfg.Redis.BlockWaitMillis) * time.Millisecond,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		box = mailbox
	case "rabbitmq":
		mailbox, err := transport.NewRabbitMQMailbox(transport.RabbitMQConfig{
			URL:          cfg.RabbitMQ.URL,
			QueuePrefix:  cfg.RabbitMQ.QueuePrefix,
			PollInterval: time.Duration(cfg.RabbitMQ.PollIntervalMillis) * time.Millisecond,
			QueueExpiry:  time.Duration(cfg.RabbitMQ.QueueExpirySeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		box = mailbox
	default:
		return nil, fmt.Errorf("未知的传输驱动: %s", cfg.Driver)
	}
	return transport.New(box), nil
}

// NewDispatcher 创建告警派发器：安全日志总是启用，配置了 webhook 时同时推送。
func NewDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}
