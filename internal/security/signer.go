package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// defaultSigningSecret is used when the build does not inject a secret.
// Exports should always set KEYGATE_ACTIVATION_SIGNING_SECRET.
const defaultSigningSecret = "keygate-activation-record-v1"

// Signer produces HMAC-SHA256 signatures over persisted activation records
type Signer struct {
	key []byte
}

// RecordContext separates activation record signatures from any other use
// of the same secret
const RecordContext = "activation"

// NewSigner derives a signing key from secret for one purpose, named by
// context. Every installation sharing a secret shares the key, so a record
// copied between them still verifies. An empty secret falls back to the
// built-in one.
func NewSigner(secret []byte, context string) (*Signer, error) {
	if len(secret) == 0 {
		secret = []byte(defaultSigningSecret)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("keygate/record-signature/"+context))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &Signer{key: key}, nil
}

// Sign returns the hex encoded signature of data
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ErrSignatureMismatch is returned by Verify for a bad or malformed signature
var ErrSignatureMismatch = errors.New("signature mismatch")

// Verify checks signature against data in constant time
func (s *Signer) Verify(data []byte, signature string) error {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}

	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	if !hmac.Equal(got, h.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}
