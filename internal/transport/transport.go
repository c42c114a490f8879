package transport

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/pkg/logger"
)

// Mailbox 是按 key 投递和取出消息的最小抽象，内存、Redis、RabbitMQ 各有一种实现。
type Mailbox interface {
	Push(ctx context.Context, key string, payload []byte) error
	// Pop 阻塞直到 key 上有消息或 ctx 结束。
	Pop(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Session 是两个参与方之间按序收发消息的会话。
type Session interface {
	ID() string
	Protocol() string
	// Counterparty 返回对端的参与方名称。
	Counterparty() string
	Send(ctx context.Context, v any) error
	Receive(ctx context.Context, v any) error
	// Fail 通知对端本方放弃会话，对端下一次 Receive 会得到同错误码的错误。
	Fail(ctx context.Context, err error) error
}

// Handler 处理对端发起的会话。
type Handler func(ctx context.Context, s Session) error

// Transport 负责建立会话以及监听入站会话。
type Transport interface {
	Initiate(ctx context.Context, from, to, protocol string) (Session, error)
	// Listen 阻塞直到 ctx 结束，每个入站会话在独立的 goroutine 中交给 handler。
	Listen(ctx context.Context, self string, handler Handler) error
	Close() error
}

const (
	kindOpen  = "open"
	kindData  = "data"
	kindError = "error"
)

type envelope struct {
	Kind     string          `json:"kind"`
	Session  string          `json:"session"`
	Protocol string          `json:"protocol,omitempty"`
	From     string          `json:"from,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Code     xerrors.Code    `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func inboxKey(party string) string { return "inbox:" + party }

func sessionKey(id, party string) string { return "session:" + id + ":" + party }

// MailboxTransport 在任意 Mailbox 之上实现会话语义。
type MailboxTransport struct {
	box Mailbox
	wg  sync.WaitGroup
}

// New 使用给定的 Mailbox 创建 Transport。
func New(box Mailbox) *MailboxTransport {
	return &MailboxTransport{box: box}
}

// Initiate 向对端的收件箱投递开启消息并返回会话。
func (t *MailboxTransport) Initiate(ctx context.Context, from, to, protocol string) (Session, error) {
	if from == "" || to == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话双方名称不能为空")
	}
	s := &session{box: t.box, id: uuid.NewString(), protocol: protocol, self: from, peer: to}
	if err := s.push(ctx, inboxKey(to), envelope{Kind: kindOpen, Session: s.id, Protocol: protocol, From: from}); err != nil {
		return nil, err
	}
	return s, nil
}

// Listen 持续从 self 的收件箱中取出会话开启消息并分发。
func (t *MailboxTransport) Listen(ctx context.Context, self string, handler Handler) error {
	log := logger.Named("transport").With(slog.String("party", self))
	defer t.wg.Wait()
	for {
		raw, err := t.box.Pop(ctx, inboxKey(self))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeTransportFailure, err, "读取收件箱失败")
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Kind != kindOpen || env.Session == "" {
			log.Warn("丢弃无法识别的入站消息", slog.Any("error", err))
			continue
		}
		s := &session{box: t.box, id: env.Session, protocol: env.Protocol, self: self, peer: env.From}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := handler(ctx, s); err != nil {
				log.Warn("会话处理失败",
					slog.String("session", s.id),
					slog.String("protocol", s.protocol),
					slog.String("peer", s.peer),
					slog.Any("error", err))
				if !s.failed {
					if failErr := s.Fail(ctx, err); failErr != nil {
						log.Error("通知对端失败", slog.String("session", s.id), slog.Any("error", failErr))
					}
				}
			}
		}()
	}
}

// Close 关闭底层 Mailbox。
func (t *MailboxTransport) Close() error {
	if t == nil || t.box == nil {
		return nil
	}
	return t.box.Close()
}

type session struct {
	box      Mailbox
	id       string
	protocol string
	self     string
	peer     string
	failed   bool
}

func (s *session) ID() string           { return s.id }
func (s *session) Protocol() string     { return s.protocol }
func (s *session) Counterparty() string { return s.peer }

func (s *session) push(ctx context.Context, key string, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "编码消息失败")
	}
	if err := s.box.Push(ctx, key, payload); err != nil {
		return wrapContext(ctx, err, "投递消息失败")
	}
	return nil
}

// Send 将 v 编码为 JSON 发给对端。
func (s *session) Send(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "编码消息体失败")
	}
	return s.push(ctx, sessionKey(s.id, s.peer), envelope{Kind: kindData, Session: s.id, Body: body})
}

// Receive 读取下一条消息并解码到 v。对端调用 Fail 时返回其错误。
func (s *session) Receive(ctx context.Context, v any) error {
	raw, err := s.box.Pop(ctx, sessionKey(s.id, s.self))
	if err != nil {
		return wrapContext(ctx, err, "接收消息失败")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "解码消息失败")
	}
	switch env.Kind {
	case kindError:
		code := env.Code
		if code == "" {
			code = xerrors.CodeUnknown
		}
		return xerrors.New(code, env.Message, xerrors.WithMetadata("peer", s.peer))
	case kindData:
		if err := json.Unmarshal(env.Body, v); err != nil {
			return xerrors.Wrap(xerrors.CodeTransportFailure, err, "解码消息体失败")
		}
		return nil
	default:
		return xerrors.Newf(xerrors.CodeTransportFailure, "意外的消息类型 %q", env.Kind)
	}
}

// Fail 将 err 的错误码与信息发送给对端。
func (s *session) Fail(ctx context.Context, err error) error {
	s.failed = true
	return s.push(ctx, sessionKey(s.id, s.peer), envelope{
		Kind:    kindError,
		Session: s.id,
		Code:    xerrors.CodeOf(err),
		Message: xerrors.MessageOf(err),
	})
}

func wrapContext(ctx context.Context, err error, message string) error {
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeTransportFailure, err, message)
}
