// Package crypto implements request signing and signature verification for LTI launches
// and the tool's own RS256 key set.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultKeySize is the default RSA key size in bits.
	DefaultKeySize = 2048
	// Algorithm is the JWT signing algorithm used by the tool.
	Algorithm = "RS256"
	// KeyType is the JWK key type.
	KeyType = "RSA"
	// KeyUse is the JWK key use.
	KeyUse = "sig"
)

// KeyPair is one RSA key of the tool's key set.
type KeyPair struct {
	Kid        string          `json:"kid"`
	Alg        string          `json:"alg"`
	PrivateKey *rsa.PrivateKey `json:"-"`
	PublicKey  *rsa.PublicKey  `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	// RetiresAt is set when the key is rotated out; the key stays published until then.
	RetiresAt time.Time `json:"retires_at"`
	Active    bool      `json:"active"`

	PrivateKeyPEM []byte `json:"private_key_pem,omitempty"`
}

// GenerateKeyPair generates a new active RSA key with a random kid.
func GenerateKeyPair(keySize int) (*KeyPair, error) {
	if keySize == 0 {
		keySize = DefaultKeySize
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	kp := &KeyPair{
		Kid:        uuid.New().String(),
		Alg:        Algorithm,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		CreatedAt:  time.Now().UTC(),
		Active:     true,
	}
	kp.PrivateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return kp, nil
}

// LoadFromPEM restores the RSA keys after the pair was read from storage.
func (kp *KeyPair) LoadFromPEM() error {
	if len(kp.PrivateKeyPEM) == 0 {
		return fmt.Errorf("PEM data is missing")
	}

	block, _ := pem.Decode(kp.PrivateKeyPEM)
	if block == nil {
		return fmt.Errorf("failed to decode private key PEM")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	kp.PrivateKey = privateKey
	kp.PublicKey = &privateKey.PublicKey

	return nil
}

// Retired reports whether the key is past its retirement time.
func (kp *KeyPair) Retired(now time.Time) bool {
	if kp.RetiresAt.IsZero() {
		return false
	}
	return !now.Before(kp.RetiresAt)
}
