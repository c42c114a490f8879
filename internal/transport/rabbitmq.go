package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ Mailbox 的连接参数。
type RabbitMQConfig struct {
	URL          string
	QueuePrefix  string
	PollInterval time.Duration
	// QueueExpiry 是空闲队列被服务端删除前的存活时间。
	QueueExpiry time.Duration
}

// RabbitMQMailbox 为每个 key 声明一个队列，通过默认交换机投递、basic.get 轮询读取。
type RabbitMQMailbox struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	prefix   string
	interval time.Duration
	args     amqp.Table
	declared map[string]struct{}
}

// NewRabbitMQMailbox 连接 RabbitMQ 并创建 Mailbox。
func NewRabbitMQMailbox(cfg RabbitMQConfig) (*RabbitMQMailbox, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	prefix := cfg.QueuePrefix
	if prefix == "" {
		prefix = "fxledger."
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	expiry := cfg.QueueExpiry
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &RabbitMQMailbox{
		conn:     conn,
		ch:       ch,
		prefix:   prefix,
		interval: interval,
		args:     amqp.Table{"x-expires": int32(expiry / time.Millisecond)},
		declared: make(map[string]struct{}),
	}, nil
}

func (m *RabbitMQMailbox) queueName(key string) string {
	return m.prefix + strings.ReplaceAll(key, ":", ".")
}

// declare 必须在持有 m.mu 时调用。
func (m *RabbitMQMailbox) declare(name string) error {
	if _, ok := m.declared[name]; ok {
		return nil
	}
	if _, err := m.ch.QueueDeclare(name, false, false, false, false, m.args); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	m.declared[name] = struct{}{}
	return nil
}

// Push 将消息发布到 key 对应的队列。
func (m *RabbitMQMailbox) Push(ctx context.Context, key string, payload []byte) error {
	name := m.queueName(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.declare(name); err != nil {
		return err
	}
	if err := m.ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}); err != nil {
		return fmt.Errorf("RabbitMQ 发布消息失败: %w", err)
	}
	return nil
}

// Pop 轮询 key 对应的队列直到取得消息或 ctx 结束。
func (m *RabbitMQMailbox) Pop(ctx context.Context, key string) ([]byte, error) {
	name := m.queueName(key)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		err := m.declare(name)
		var (
			msg amqp.Delivery
			ok  bool
		)
		if err == nil {
			msg, ok, err = m.ch.Get(name, true)
		}
		m.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("RabbitMQ 读取消息失败: %w", err)
		}
		if ok {
			return msg.Body, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (m *RabbitMQMailbox) Close() error {
	if m == nil {
		return nil
	}
	if m.ch != nil {
		_ = m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
