package proofs

import (
	"crypto/ecdsa"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenFX-Ledger/internal/errors"
)

// PublicKey is a 0x-prefixed hex encoding of a compressed secp256k1 public key.
type PublicKey string

// PublicKeyFromECDSA encodes pub in its canonical compressed form.
func PublicKeyFromECDSA(pub *ecdsa.PublicKey) PublicKey {
	return PublicKey(hexutil.Encode(crypto.CompressPubkey(pub)))
}

// ParsePublicKey validates s and returns its canonical encoding. Both
// compressed and uncompressed inputs are accepted.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return "", xerrors.Wrap(CodeInvalidKey, err, "decode public key")
	}
	var pub *ecdsa.PublicKey
	if len(raw) == 33 {
		pub, err = crypto.DecompressPubkey(raw)
	} else {
		pub, err = crypto.UnmarshalPubkey(raw)
	}
	if err != nil {
		return "", xerrors.Wrap(CodeInvalidKey, err, "parse public key")
	}
	return PublicKeyFromECDSA(pub), nil
}

// String implements fmt.Stringer.
func (k PublicKey) String() string { return string(k) }

// Short returns an abbreviated form for log lines.
func (k PublicKey) Short() string {
	if len(k) <= 14 {
		return string(k)
	}
	return string(k[:10]) + "..." + string(k[len(k)-4:])
}

// Signature is a recoverable secp256k1 signature over a transition root.
type Signature struct {
	By    PublicKey     `json:"by"`
	Bytes hexutil.Bytes `json:"bytes"`
}

// Verify reports whether the signature was produced by s.By over root.
func (s Signature) Verify(root common.Hash) bool {
	return VerifySignature(s, root, s.By)
}

// VerifySignature reports whether sig was produced by key over root.
func VerifySignature(sig Signature, root common.Hash, key PublicKey) bool {
	if sig.By != key || len(sig.Bytes) < crypto.RecoveryIDOffset {
		return false
	}
	raw, err := hexutil.Decode(string(key))
	if err != nil {
		return false
	}
	return crypto.VerifySignature(raw, root.Bytes(), sig.Bytes[:crypto.RecoveryIDOffset])
}

// Keystore holds the private keys of the local node.
type Keystore struct {
	mu   sync.RWMutex
	keys map[PublicKey]*ecdsa.PrivateKey
}

// NewKeystore returns an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{keys: make(map[PublicKey]*ecdsa.PrivateKey)}
}

// Generate creates and stores a fresh key.
func (k *Keystore) Generate() (PublicKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", xerrors.Wrap(CodeInvalidKey, err, "generate key")
	}
	return k.Add(priv), nil
}

// ImportHex stores a hex encoded private key, with or without 0x prefix.
func (k *Keystore) ImportHex(hexKey string) (PublicKey, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return "", xerrors.Wrap(CodeInvalidKey, err, "import private key")
	}
	return k.Add(priv), nil
}

// Add stores priv and returns its public key.
func (k *Keystore) Add(priv *ecdsa.PrivateKey) PublicKey {
	pub := PublicKeyFromECDSA(&priv.PublicKey)
	k.mu.Lock()
	k.keys[pub] = priv
	k.mu.Unlock()
	return pub
}

// Has reports whether the keystore can sign for key.
func (k *Keystore) Has(key PublicKey) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[key]
	return ok
}

// Keys lists the held public keys in sorted order.
func (k *Keystore) Keys() []PublicKey {
	k.mu.RLock()
	out := make([]PublicKey, 0, len(k.keys))
	for key := range k.keys {
		out = append(out, key)
	}
	k.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sign signs root with the private key behind key.
func (k *Keystore) Sign(root common.Hash, key PublicKey) (Signature, error) {
	k.mu.RLock()
	priv, ok := k.keys[key]
	k.mu.RUnlock()
	if !ok {
		return Signature{}, xerrors.New(CodeUnknownKey, "key not held by keystore", xerrors.WithMetadata("key", key.Short()))
	}
	sig, err := crypto.Sign(root.Bytes(), priv)
	if err != nil {
		return Signature{}, xerrors.Wrap(CodeInvalidSignature, err, "sign root")
	}
	return Signature{By: key, Bytes: sig}, nil
}

// EncodeSigners encodes the payload of a signers leaf.
func EncodeSigners(keys []PublicKey) []byte {
	if keys == nil {
		keys = []PublicKey{}
	}
	payload, _ := json.Marshal(keys)
	return payload
}

// DecodeSigners decodes the payload of a signers leaf.
func DecodeSigners(payload []byte) ([]PublicKey, error) {
	var keys []PublicKey
	if err := json.Unmarshal(payload, &keys); err != nil {
		return nil, xerrors.Wrap(CodeIntegrity, err, "decode signers leaf")
	}
	return keys, nil
}
