package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next     ports.SnapshotStore
	active   cipher.AEAD
	fallback []cipher.AEAD
}

// envelopeKey is the only value of a stored encrypted snapshot.
const envelopeKey = "__encrypted__"

// NewEncryptionMiddleware creates a middleware that encrypts snapshot values using AES-GCM.
// Key, object name and save time stay in clear for listing and monitoring; the
// key and object name are authenticated, so an envelope copied to another key
// does not decrypt.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	active, err := newAEAD(config.ActiveKey)
	if err != nil {
		panic(err)
	}
	var fallback []cipher.AEAD
	for i, k := range config.FallbackKeys {
		aead, err := newAEAD(k)
		if err != nil {
			panic(fmt.Sprintf("fallback key %d: %v", i, err))
		}
		fallback = append(fallback, aead)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &encryptionMiddleware{next: next, active: active, fallback: fallback}
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// additionalData binds a ciphertext to the snapshot it was written for.
func additionalData(key, object string) []byte {
	return []byte(key + "\x00" + object)
}

func (m *encryptionMiddleware) Save(ctx context.Context, key string, snap *domain.Snapshot) error {
	plain, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("marshal snapshot values: %w", err)
	}

	nonce := make([]byte, m.active.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}
	sealed := m.active.Seal(nonce, nonce, plain, additionalData(key, snap.Object))

	envelope := *snap
	envelope.Values = map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(sealed)}
	return m.next.Save(ctx, key, &envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	envelope, err := m.next.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelope.Values[envelopeKey].(string)
	if !ok {
		// Fail secure: a plain snapshot is not accepted once encryption is configured.
		return nil, errors.New("snapshot is missing encrypted data envelope")
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	plain, err := m.open(sealed, additionalData(key, envelope.Object))
	if err != nil {
		return nil, fmt.Errorf("decrypt snapshot %s: %w", key, err)
	}
	var values map[string]any
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted values: %w", err)
	}

	snap := *envelope
	snap.Values = values
	return &snap, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// open tries the active key, then the fallback keys in order.
func (m *encryptionMiddleware) open(sealed, ad []byte) ([]byte, error) {
	for _, aead := range append([]cipher.AEAD{m.active}, m.fallback...) {
		n := aead.NonceSize()
		if len(sealed) < n {
			return nil, errors.New("ciphertext too short")
		}
		if plain, err := aead.Open(nil, sealed[:n], sealed[n:], ad); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}
