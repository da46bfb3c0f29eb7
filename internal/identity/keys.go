package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	nostr "github.com/nbd-wtf/go-nostr"
)

// now is replaced in tests.
var now = time.Now

// Keys is the publisher's signing identity.
type Keys struct {
	privateKey *btcec.PrivateKey
	PublicKey  string `json:"public_key"` // x-only, hex
}

// Generate creates a new secp256k1 keypair.
func Generate() (*Keys, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return fromPrivateKey(privateKey), nil
}

// FromHex parses a 32-byte hex secret key.
func FromHex(secret string) (*Keys, error) {
	secret = strings.TrimSpace(secret)
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(privateKey), nil
}

func fromPrivateKey(privateKey *btcec.PrivateKey) *Keys {
	return &Keys{
		privateKey: privateKey,
		PublicKey:  hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
	}
}

// SecretHex returns the hex secret key.
func (k *Keys) SecretHex() string {
	return hex.EncodeToString(k.privateKey.Serialize())
}

// ID is a short human-readable label derived from the public key.
func (k *Keys) ID() string {
	return fmt.Sprintf("publisher-%s", k.PublicKey[:16])
}

// Sign stamps evt with this identity: pubkey, created_at when unset, id and sig.
func (k *Keys) Sign(evt *event.Event) error {
	n := evt.ToNostr()
	if n.CreatedAt == 0 {
		n.CreatedAt = nostr.Timestamp(now().Unix())
	}
	if err := n.Sign(k.SecretHex()); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	*evt = event.FromNostr(n)
	return nil
}

// LoadOrCreate loads the key at path or, if the file does not exist,
// generates one and saves it. created reports which happened.
func LoadOrCreate(path string) (keys *Keys, created bool, err error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		keys, err := Generate()
		if err != nil {
			return nil, false, err
		}
		if err := Save(keys, path); err != nil {
			return nil, false, fmt.Errorf("failed to save identity: %w", err)
		}
		return keys, true, nil
	}
	keys, err = Load(path)
	return keys, false, err
}

// Save writes the secret key as hex with owner-only permissions.
func Save(keys *Keys, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Only the secret is stored; the public key is derived from it.
	content := keys.SecretHex() + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// Load reads a key file written by Save.
func Load(path string) (*Keys, error) {
	cleanedPath := filepath.Clean(path)
	if len(cleanedPath) > 4096 {
		return nil, fmt.Errorf("invalid path: path too long")
	}

	content, err := os.ReadFile(cleanedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return FromHex(string(content))
}
