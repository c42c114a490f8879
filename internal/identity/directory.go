// Package identity resolves well-known party names to their signing keys from
// a YAML network map.
package identity

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

const CodeUnknownParty xerrors.Code = "IDENTITY_UNKNOWN_PARTY"

// ErrUnknownParty is returned when a name or key is not in the network map.
var ErrUnknownParty = xerrors.New(CodeUnknownParty, "party is not in the network map")

func init() {
	xerrors.Register(CodeUnknownParty, xerrors.Attributes{
		Message:  "party is not in the network map",
		Severity: xerrors.SeverityInfo,
	})
}

// NetworkMap models configs/network.yaml.
type NetworkMap struct {
	Parties map[string]PartyEntry `yaml:"parties"`
}

// PartyEntry describes one participant of the network.
type PartyEntry struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

// LoadNetworkMap parses the YAML network map at path. An empty path yields an
// empty map.
func LoadNetworkMap(path string) (NetworkMap, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkMap{Parties: map[string]PartyEntry{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkMap{}, fmt.Errorf("读取网络拓扑失败: %w", err)
	}
	var nm NetworkMap
	if err := yaml.Unmarshal(content, &nm); err != nil {
		return NetworkMap{}, fmt.Errorf("解析网络拓扑失败: %w", err)
	}
	if nm.Parties == nil {
		nm.Parties = map[string]PartyEntry{}
	}
	return nm, nil
}

// Directory maps party names to keys and back.
type Directory struct {
	mu     sync.RWMutex
	byName map[string]ledger.Party
	byKey  map[proofs.PublicKey]ledger.Party
}

// NewDirectory returns a directory holding parties.
func NewDirectory(parties ...ledger.Party) *Directory {
	d := &Directory{
		byName: make(map[string]ledger.Party),
		byKey:  make(map[proofs.PublicKey]ledger.Party),
	}
	for _, p := range parties {
		d.Register(p)
	}
	return d
}

// FromNetworkMap validates every key of nm and builds a directory.
func FromNetworkMap(nm NetworkMap) (*Directory, error) {
	d := NewDirectory()
	for name, entry := range nm.Parties {
		key, err := proofs.ParsePublicKey(entry.Key)
		if err != nil {
			return nil, fmt.Errorf("party %s: %w", name, err)
		}
		d.Register(ledger.Party{Name: name, Key: key})
	}
	return d, nil
}

// Register adds or replaces p.
func (d *Directory) Register(p ledger.Party) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byName[p.Name]; ok {
		delete(d.byKey, old.Key)
	}
	d.byName[p.Name] = p
	d.byKey[p.Key] = p
}

// WellKnownParty resolves name.
func (d *Directory) WellKnownParty(name string) (ledger.Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byName[name]
	if !ok {
		return ledger.Party{}, xerrors.New(CodeUnknownParty, fmt.Sprintf("party %q is not in the network map", name))
	}
	return p, nil
}

// PartyFromKey resolves key.
func (d *Directory) PartyFromKey(key proofs.PublicKey) (ledger.Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byKey[key]
	if !ok {
		return ledger.Party{}, xerrors.New(CodeUnknownParty, fmt.Sprintf("key %s is not in the network map", key.Short()))
	}
	return p, nil
}

// Parties lists the known parties sorted by name.
func (d *Directory) Parties() []ledger.Party {
	d.mu.RLock()
	out := make([]ledger.Party, 0, len(d.byName))
	for _, p := range d.byName {
		out = append(out, p)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
