package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "FXLEDGER_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件路径。
const DefaultPath = "configs/fxledger.json"

// Config 描述了钱包节点在启动阶段需要加载的核心配置。
type Config struct {
	Node      NodeConfig      `json:"node"`
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Transport TransportConfig `json:"transport"`
	Network   NetworkConfig   `json:"network"`
	Oracle    OracleConfig    `json:"oracle"`
	Flow      FlowConfig      `json:"flow"`
	Logging   LoggingConfig   `json:"logging"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// NodeConfig 描述本节点的身份。私钥为空时启动时生成临时密钥。
type NodeConfig struct {
	Name          string `json:"name"`
	PrivateKey    string `json:"private_key"`
	PrivateKeyEnv string `json:"private_key_env"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 列出允许访问 API 的静态令牌，为空时不启用认证。
type AuthConfig struct {
	Tokens []TokenConfig `json:"tokens"`
}

// TokenConfig 描述一个令牌，secret_env 优先于 secret。
type TokenConfig struct {
	Subject     string   `json:"subject"`
	Secret      string   `json:"secret"`
	SecretEnv   string   `json:"secret_env"`
	Permissions []string `json:"permissions"`
}

// StorageConfig 描述账本存储的连接信息。
type StorageConfig struct {
	Ledger LedgerStoreConfig `json:"ledger"`
}

// LedgerStoreConfig 支持 memory 与 mysql 两种驱动。
type LedgerStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// TransportConfig 选择会话传输使用的 Mailbox 实现。
type TransportConfig struct {
	Driver      string         `json:"driver"`
	MailboxSize int            `json:"mailbox_size"`
	Redis       RedisConfig    `json:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 传输的连接参数。
type RedisConfig struct {
	Address         string `json:"address"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	Prefix          string `json:"prefix"`
	BlockWaitMillis int    `json:"block_wait_millis"`
	TTLSeconds      int    `json:"ttl_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 传输的连接参数。
type RabbitMQConfig struct {
	URL                string `json:"url"`
	QueuePrefix        string `json:"queue_prefix"`
	PollIntervalMillis int    `json:"poll_interval_millis"`
	QueueExpirySeconds int    `json:"queue_expiry_seconds"`
}

// NetworkConfig 描述网络拓扑文件以及公证方、预言机的名称。
type NetworkConfig struct {
	Directory string `json:"directory"`
	Notary    string `json:"notary"`
	Oracle    string `json:"oracle"`
}

// OracleConfig 控制本节点是否同时提供汇率预言机服务。
type OracleConfig struct {
	Enabled   bool   `json:"enabled"`
	RatesFile string `json:"rates_file"`
}

// FlowConfig 包含协调器的运行参数。
type FlowConfig struct {
	StepTimeoutSeconds int    `json:"step_timeout_seconds"`
	QuoteCurrency      string `json:"quote_currency"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level    string     `json:"level"`
	Format   string     `json:"format"`
	Outputs  []string   `json:"outputs"`
	Audit    SinkConfig `json:"audit"`
	Security SinkConfig `json:"security"`
}

// SinkConfig 描述独立的滚动日志文件。
type SinkConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 配置告警的 webhook 地址，为空时只写安全日志。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// ResolvePath 返回配置文件路径，优先使用 FXLEDGER_CONFIG。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}
	if c.Storage.Ledger.MaxOpenConns == 0 {
		c.Storage.Ledger.MaxOpenConns = 10
	}
	if c.Storage.Ledger.MaxIdleConns == 0 {
		c.Storage.Ledger.MaxIdleConns = 5
	}

	if c.Transport.Driver == "" {
		c.Transport.Driver = "memory"
	}
	if c.Transport.MailboxSize <= 0 {
		c.Transport.MailboxSize = 128
	}

	if c.Network.Notary == "" {
		c.Network.Notary = "Notary"
	}
	c.Network.Directory = resolve(baseDir, c.Network.Directory)
	c.Oracle.RatesFile = resolve(baseDir, c.Oracle.RatesFile)

	if c.Flow.StepTimeoutSeconds <= 0 {
		c.Flow.StepTimeoutSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	c.Logging.Security.Path = resolve(baseDir, c.Logging.Security.Path)

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查驱动名称以及各驱动必需的连接参数。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.Name) == "" {
		return errors.New("node.name 不能为空")
	}
	switch c.Storage.Ledger.Driver {
	case "memory":
	case "mysql":
		if c.Storage.Ledger.DSN == "" {
			return errors.New("storage.ledger.dsn 在 mysql 驱动下不能为空")
		}
	default:
		return fmt.Errorf("不支持的账本存储驱动 %q", c.Storage.Ledger.Driver)
	}
	switch c.Transport.Driver {
	case "memory":
	case "redis":
		if c.Transport.Redis.Address == "" {
			return errors.New("transport.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Transport.RabbitMQ.URL == "" {
			return errors.New("transport.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的传输驱动 %q", c.Transport.Driver)
	}
	for i, tok := range c.Server.Auth.Tokens {
		if strings.TrimSpace(tok.Subject) == "" {
			return fmt.Errorf("server.auth.tokens[%d].subject 不能为空", i)
		}
		if tok.SecretValue() == "" {
			return fmt.Errorf("server.auth.tokens[%d] 缺少 secret 或 secret_env", i)
		}
	}
	if c.Oracle.Enabled && c.Network.Oracle != "" && c.Network.Oracle != c.Node.Name {
		return fmt.Errorf("oracle.enabled 要求 network.oracle 与 node.name 一致，当前为 %q", c.Network.Oracle)
	}
	return nil
}

// PrivateKeyHex 返回节点私钥，private_key_env 优先于 private_key。
func (n NodeConfig) PrivateKeyHex() string {
	if n.PrivateKeyEnv != "" {
		if value := strings.TrimSpace(os.Getenv(n.PrivateKeyEnv)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(n.PrivateKey)
}

// SecretValue 返回令牌密钥，secret_env 优先于 secret。
func (t TokenConfig) SecretValue() string {
	if t.SecretEnv != "" {
		if value := strings.TrimSpace(os.Getenv(t.SecretEnv)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(t.Secret)
}

// StepTimeout 返回协调器单步超时时间。
func (f FlowConfig) StepTimeout() time.Duration {
	return time.Duration(f.StepTimeoutSeconds) * time.Second
}

// IsNotary 报告本节点是否为公证方。
func (c *Config) IsNotary() bool {
	return c.Node.Name == c.Network.Notary
}
