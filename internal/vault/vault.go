package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/store"
	"golang.org/x/crypto/argon2"
)

// Vault seals small values (API keys) with AES-256-GCM under a key derived
// from a passphrase via Argon2id. The salt is the SHA-256 of the passphrase,
// so the same passphrase opens values written by earlier runs.
type Vault struct {
	key [32]byte
	gcm cipher.AEAD
}

func New(passphrase string) (*Vault, error) {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	v.gcm = gcm
	return v, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (v *Vault) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (v *Vault) Open(ciphertext, nonce []byte) ([]byte, error) {
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// SecretStore is the subset of the store used to persist sealed values.
type SecretStore interface {
	SaveSecret(sec *store.Secret) error
	GetSecret(name string) (*store.Secret, error)
	DeleteSecret(name string) error
}

// Keyring keeps named secrets sealed at rest.
type Keyring struct {
	vault *Vault
	store SecretStore
}

func NewKeyring(v *Vault, s SecretStore) *Keyring {
	return &Keyring{vault: v, store: s}
}

// Put seals value and stores it under name. An empty value deletes the secret.
func (k *Keyring) Put(name, value string) error {
	if value == "" {
		return k.store.DeleteSecret(name)
	}
	ciphertext, nonce, err := k.vault.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("seal %s: %w", name, err)
	}
	return k.store.SaveSecret(&store.Secret{Name: name, Value: ciphertext, Nonce: nonce})
}

// Get returns the plaintext stored under name, or "" when nothing is stored.
func (k *Keyring) Get(name string) (string, error) {
	sec, err := k.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", nil
	}
	plaintext, err := k.vault.Open(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	return string(plaintext), nil
}
