package oracle

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
)

// DefaultRates is the table an oracle starts with when no rate file is given.
func DefaultRates() []ledger.RateFact {
	return []ledger.RateFact{
		{From: "EUR", To: "GBP", Rate: decimal.RequireFromString("0.8")},
		{From: "GBP", To: "EUR", Rate: decimal.RequireFromString("1.2")},
		{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.5")},
		{From: "USD", To: "EUR", Rate: decimal.RequireFromString("0.5")},
	}
}

// RateTable holds the known rates keyed by currency pair. Reads share the
// lock; Replace swaps the whole table under the write lock.
type RateTable struct {
	mu    sync.RWMutex
	rates map[ledger.RateOf]ledger.RateFact
}

// NewRateTable builds a table from facts. Later facts for the same pair win.
func NewRateTable(facts []ledger.RateFact) *RateTable {
	t := &RateTable{}
	t.rates = index(facts)
	return t
}

func index(facts []ledger.RateFact) map[ledger.RateOf]ledger.RateFact {
	m := make(map[ledger.RateOf]ledger.RateFact, len(facts))
	for _, f := range facts {
		m[f.Of()] = f
	}
	return m
}

// Get looks up the rate for of.
func (t *RateTable) Get(of ledger.RateOf) (ledger.RateFact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.rates[of]
	return f, ok
}

// Replace installs facts as the new table. An empty set is rejected and the
// table is left unchanged.
func (t *RateTable) Replace(facts []ledger.RateFact) error {
	if len(facts) == 0 {
		return ErrEmptyRates
	}
	for _, f := range facts {
		if f.From == "" || f.To == "" {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "rate %s has an empty currency", f)
		}
		if !f.Rate.IsPositive() {
			return xerrors.Newf(xerrors.CodeInvalidArgument, "rate %s must be positive", f)
		}
	}
	next := index(facts)
	t.mu.Lock()
	t.rates = next
	t.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the table sorted by pair.
func (t *RateTable) Snapshot() []ledger.RateFact {
	t.mu.RLock()
	out := make([]ledger.RateFact, 0, len(t.rates))
	for _, f := range t.rates {
		out = append(out, f)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].From == out[j].From {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out
}

// RateFile models configs/rates.yaml.
type RateFile struct {
	Rates []RateEntry `yaml:"rates" json:"rates"`
}

// RateEntry is one row of the rate file. Rate is kept as text so that no
// precision is lost to floating point.
type RateEntry struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	Rate string `yaml:"rate" json:"rate"`
}

// LoadRates reads a YAML rate file. An empty path yields DefaultRates.
func LoadRates(path string) ([]ledger.RateFact, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRates(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取汇率文件失败: %w", err)
	}
	var file RateFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析汇率文件失败: %w", err)
	}
	facts := make([]ledger.RateFact, 0, len(file.Rates))
	for i, entry := range file.Rates {
		fact, err := entry.Fact()
		if err != nil {
			return nil, fmt.Errorf("汇率文件第 %d 项无效: %w", i+1, err)
		}
		facts = append(facts, fact)
	}
	if len(facts) == 0 {
		return nil, ErrEmptyRates
	}
	return facts, nil
}

// Fact parses the entry. Currencies are canonicalised.
func (e RateEntry) Fact() (ledger.RateFact, error) {
	from, err := ledger.ParseCurrency(e.From)
	if err != nil {
		return ledger.RateFact{}, err
	}
	to, err := ledger.ParseCurrency(e.To)
	if err != nil {
		return ledger.RateFact{}, err
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(e.Rate))
	if err != nil {
		return ledger.RateFact{}, fmt.Errorf("rate %q: %w", e.Rate, err)
	}
	return ledger.RateFact{From: from, To: to, Rate: rate}, nil
}
