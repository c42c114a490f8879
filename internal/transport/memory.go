package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryMailbox 使用 channel 在进程内投递消息，主要用于测试和单进程部署。
// 没有调用方持有且已清空的 key 会被回收，结束的会话不会留下 channel。
type MemoryMailbox struct {
	mu     sync.Mutex
	boxes  map[string]*memoryBox
	size   int
	closed chan struct{}
	once   sync.Once
}

type memoryBox struct {
	ch    chan []byte
	users int
}

// NewMemoryMailbox 创建内存 Mailbox，size 为每个 key 的缓冲大小。
func NewMemoryMailbox(size int) *MemoryMailbox {
	if size <= 0 {
		size = 64
	}
	return &MemoryMailbox{boxes: make(map[string]*memoryBox), size: size, closed: make(chan struct{})}
}

func (m *MemoryMailbox) acquire(key string) *memoryBox {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boxes[key]
	if !ok {
		b = &memoryBox{ch: make(chan []byte, m.size)}
		m.boxes[key] = b
	}
	b.users++
	return b
}

func (m *MemoryMailbox) release(key string, b *memoryBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.users--
	if b.users == 0 && len(b.ch) == 0 {
		delete(m.boxes, key)
	}
}

func (m *MemoryMailbox) keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}

// Push 投递消息。
func (m *MemoryMailbox) Push(ctx context.Context, key string, payload []byte) error {
	b := m.acquire(key)
	defer m.release(key, b)
	select {
	case <-m.closed:
		return errors.New("mailbox 已关闭")
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- append([]byte(nil), payload...):
		return nil
	}
}

// Pop 取出消息。
func (m *MemoryMailbox) Pop(ctx context.Context, key string) ([]byte, error) {
	b := m.acquire(key)
	defer m.release(key, b)
	select {
	case <-m.closed:
		return nil, errors.New("mailbox 已关闭")
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-b.ch:
		return payload, nil
	}
}

// Close 关闭 Mailbox，阻塞中的调用立即返回。
func (m *MemoryMailbox) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
