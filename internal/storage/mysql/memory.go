package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

type memoryRecord struct {
	state      ledger.StateAndRef
	seq        uint64
	consumedBy *common.Hash
}

// MemoryLedgerStore 在进程内保存账本，可选地将已提交的转换追加写入 JSON 日志以便重启恢复。
type MemoryLedgerStore struct {
	mu          sync.RWMutex
	dataFile    string
	seq         uint64
	records     map[ledger.StateRef]*memoryRecord
	transitions map[common.Hash]Committed
}

// NewMemoryLedgerStore 创建内存账本。dataDir 为空时不落盘。
func NewMemoryLedgerStore(dataDir string) (*MemoryLedgerStore, error) {
	store := &MemoryLedgerStore{
		records:     make(map[ledger.StateRef]*memoryRecord),
		transitions: make(map[common.Hash]Committed),
	}
	if dataDir == "" {
		return store, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	store.dataFile = filepath.Join(dataDir, "ledger.log")
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// FindBalance 实现 LedgerStore。
func (m *MemoryLedgerStore) FindBalance(_ context.Context, owner proofs.PublicKey, currency string) (ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *memoryRecord
	for _, r := range m.records {
		if r.consumedBy != nil || r.state.Record.Owner.Key != owner || r.state.Record.Currency != currency {
			continue
		}
		if best == nil || r.seq < best.seq {
			best = r
		}
	}
	if best == nil {
		return ledger.StateAndRef{}, ErrRecordNotFound
	}
	return best.state, nil
}

// ListBalances 实现 LedgerStore。
func (m *MemoryLedgerStore) ListBalances(_ context.Context, owner proofs.PublicKey) ([]ledger.StateAndRef, error) {
	m.mu.RLock()
	var found []*memoryRecord
	for _, r := range m.records {
		if r.consumedBy == nil && r.state.Record.Owner.Key == owner {
			found = append(found, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(found, func(i, j int) bool {
		if found[i].state.Record.Currency == found[j].state.Record.Currency {
			return found[i].seq < found[j].seq
		}
		return found[i].state.Record.Currency < found[j].state.Record.Currency
	})
	out := make([]ledger.StateAndRef, len(found))
	for i, r := range found {
		out[i] = r.state
	}
	return out, nil
}

// Unconsumed 实现 LedgerStore。
func (m *MemoryLedgerStore) Unconsumed(_ context.Context, ref ledger.StateRef) (ledger.StateAndRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[ref]
	if !ok {
		return ledger.StateAndRef{}, ErrRecordNotFound
	}
	if r.consumedBy != nil {
		return ledger.StateAndRef{}, xerrors.Newf(CodeInputConsumed, "input %s consumed by %s", ref, r.consumedBy.Hex())
	}
	return r.state, nil
}

// Commit 实现 LedgerStore，整个提交在同一把写锁内完成。
// 日志先于内存状态写入，写盘失败时账本保持不变。
func (m *MemoryLedgerStore) Commit(_ context.Context, stx ledger.SignedTransition, receipt ledger.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Committed{Transition: stx, Receipt: receipt}
	if err := m.check(c); err != nil {
		return err
	}
	if m.dataFile != "" {
		if err := m.appendToDisk(c); err != nil {
			return err
		}
	}
	m.mutate(c)
	return nil
}

func (m *MemoryLedgerStore) apply(c Committed) error {
	if err := m.check(c); err != nil {
		return err
	}
	m.mutate(c)
	return nil
}

func (m *MemoryLedgerStore) check(c Committed) error {
	id := c.Receipt.TxID
	if _, ok := m.transitions[id]; ok {
		return ErrDuplicateTransition
	}
	seen := make(map[ledger.StateRef]struct{}, len(c.Transition.Tx.Inputs))
	for _, in := range c.Transition.Tx.Inputs {
		if _, dup := seen[in.Ref]; dup {
			return xerrors.Newf(CodeInputConsumed, "input %s consumed twice", in.Ref)
		}
		seen[in.Ref] = struct{}{}
		r, ok := m.records[in.Ref]
		if !ok {
			return xerrors.Newf(xerrors.CodeNotFound, "input %s not found", in.Ref)
		}
		if r.consumedBy != nil {
			return xerrors.Newf(CodeInputConsumed, "input %s consumed by %s", in.Ref, r.consumedBy.Hex())
		}
	}
	return nil
}

func (m *MemoryLedgerStore) mutate(c Committed) {
	id := c.Receipt.TxID
	for _, in := range c.Transition.Tx.Inputs {
		consumer := id
		m.records[in.Ref].consumedBy = &consumer
	}
	for i := range c.Transition.Tx.Outputs {
		m.seq++
		out := c.Transition.Tx.OutRef(id, i)
		m.records[out.Ref] = &memoryRecord{state: out, seq: m.seq}
	}
	m.transitions[id] = c
}

// GetTransition 实现 LedgerStore。
func (m *MemoryLedgerStore) GetTransition(_ context.Context, id common.Hash) (Committed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.transitions[id]
	if !ok {
		return Committed{}, xerrors.Newf(xerrors.CodeNotFound, "transition %s not found", id.Hex())
	}
	return c, nil
}

// Close 实现 LedgerStore。
func (m *MemoryLedgerStore) Close() error { return nil }

func (m *MemoryLedgerStore) appendToDisk(c Committed) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开账本日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(c)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化状态转换失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本日志失败")
	}
	return nil
}

func (m *MemoryLedgerStore) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账本日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var c Committed
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("账本日志第 %d 行无法解析", line))
		}
		if err := m.apply(c); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("账本日志第 %d 行无法重放", line))
		}
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析账本日志失败")
	}
	return nil
}
