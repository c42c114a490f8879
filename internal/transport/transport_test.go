package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	xerrors "OpenFX-Ledger/internal/errors"
)

type ping struct {
	N int `json:"n"`
}

func startEcho(t *testing.T, tr Transport, self string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Listen(ctx, self, func(ctx context.Context, s Session) error {
			var in ping
			if err := s.Receive(ctx, &in); err != nil {
				return err
			}
			if in.N < 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, "negative ping")
			}
			return s.Send(ctx, ping{N: in.N + 1})
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func exerciseEcho(t *testing.T, tr Transport) {
	t.Helper()
	startEcho(t, tr, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := tr.Initiate(ctx, "alice", "bob", "test.echo")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if s.Counterparty() != "bob" || s.Protocol() != "test.echo" || s.ID() == "" {
		t.Fatalf("unexpected session metadata: %s %s %s", s.Counterparty(), s.Protocol(), s.ID())
	}
	if err := s.Send(ctx, ping{N: 41}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var out ping
	if err := s.Receive(ctx, &out); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if out.N != 42 {
		t.Fatalf("expected 42, got %d", out.N)
	}

	failing, err := tr.Initiate(ctx, "alice", "bob", "test.echo")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := failing.Send(ctx, ping{N: -1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	err = failing.Receive(ctx, &out)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected propagated INVALID_ARGUMENT, got %v", err)
	}
	if xerrors.MessageOf(err) != "negative ping" {
		t.Fatalf("unexpected propagated message %q", xerrors.MessageOf(err))
	}
}

func TestMemoryTransportEcho(t *testing.T) {
	tr := New(NewMemoryMailbox(8))
	t.Cleanup(func() { _ = tr.Close() })
	exerciseEcho(t, tr)
}

func TestMemoryMailboxReleasesFinishedSessions(t *testing.T) {
	box := NewMemoryMailbox(8)
	tr := New(box)
	t.Cleanup(func() { _ = tr.Close() })
	t.Run("echo", func(t *testing.T) { exerciseEcho(t, tr) })
	if n := box.keys(); n != 0 {
		t.Fatalf("expected every drained key to be released, %d remain", n)
	}

	if err := box.Push(context.Background(), "pending", []byte("x")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if n := box.keys(); n != 1 {
		t.Fatalf("undelivered message must keep its key, got %d keys", n)
	}
	if _, err := box.Pop(context.Background(), "pending"); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if n := box.keys(); n != 0 {
		t.Fatalf("expected key released after pop, %d remain", n)
	}
}

func TestRedisTransportEcho(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tr := New(newRedisMailbox(client, RedisConfig{Prefix: "test:"}))
	t.Cleanup(func() { _ = tr.Close() })
	exerciseEcho(t, tr)
}

func TestReceiveTimeout(t *testing.T) {
	tr := New(NewMemoryMailbox(1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := tr.Initiate(context.Background(), "alice", "nobody", "test.echo")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	err = s.Receive(ctx, &ping{})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap the context error, got %v", err)
	}
}

func TestInitiateRequiresNames(t *testing.T) {
	tr := New(NewMemoryMailbox(1))
	if _, err := tr.Initiate(context.Background(), "", "bob", "p"); err == nil {
		t.Fatal("expected error for empty initiator")
	}
}

func TestMemoryMailboxClose(t *testing.T) {
	box := NewMemoryMailbox(1)
	_ = box.Close()
	if _, err := box.Pop(context.Background(), "k"); err == nil {
		t.Fatal("pop after close should fail")
	}
	if err := box.Push(context.Background(), "k", []byte("x")); err == nil {
		t.Fatal("push after close should fail")
	}
}
