package mesh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const didPrefix = "did:mesh:"

// Identity is a generated keypair and the decentralized identifier derived
// from its public key.
type Identity struct {
	DID        string
	PublicKey  string
	PrivateKey string
}

func NewIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Identity{
		DID:        DIDFromPublicKey(pub),
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv.Seed()),
	}, nil
}

func DIDFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return didPrefix + hex.EncodeToString(sum[:16])
}

// Verify checks that did was derived from the hex encoded public key.
func Verify(did, publicKey string) bool {
	if !strings.HasPrefix(did, didPrefix) {
		return false
	}
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return DIDFromPublicKey(pub) == did
}

// NewDID returns an identifier for entities that carry no keypair of their
// own (groups, networks, ecosystems).
func NewDID() (string, error) {
	id, err := NewIdentity()
	if err != nil {
		return "", err
	}
	return id.DID, nil
}
