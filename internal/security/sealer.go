package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// SealerConfig defines the at-rest encryption parameters
type SealerConfig struct {
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // Block size parameter
	SCryptP      int // Parallelization parameter
	SCryptKeyLen int // 32 for AES-256
	SaltSize     int
}

// DefaultSealerConfig returns OWASP-aligned scrypt parameters
func DefaultSealerConfig() SealerConfig {
	return SealerConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		SaltSize:     16,
	}
}

// sealedMagic prefixes every sealed blob: format tag plus version byte
var sealedMagic = []byte{'K', 'G', 'S', 1}

var (
	ErrNotSealed     = errors.New("data is not a sealed activation blob")
	ErrSealCorrupted = errors.New("sealed activation blob failed authentication")
)

// PassphraseSealer encrypts activation records with AES-256-GCM under a key
// derived from a passphrase with scrypt. The salt is stored in each blob; the
// derived key is cached per salt so steady-state writes skip key derivation.
type PassphraseSealer struct {
	passphrase []byte
	config     SealerConfig

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewPassphraseSealer creates a sealer. The passphrase must not be empty.
func NewPassphraseSealer(passphrase string, config SealerConfig) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, errors.New("sealer passphrase cannot be empty")
	}
	if config.SCryptN == 0 {
		config = DefaultSealerConfig()
	}
	return &PassphraseSealer{passphrase: []byte(passphrase), config: config}, nil
}

// Seal encrypts plaintext into magic | salt | nonce | ciphertext+tag
func (s *PassphraseSealer) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	if s.salt == nil {
		salt := make([]byte, s.config.SaltSize)
		if _, err := rand.Read(salt); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		key, err := s.derive(salt)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.salt, s.key = salt, key
	}
	salt, key := s.salt, s.key
	s.mu.Unlock()

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, sealedMagic), nil
}

// Open authenticates and decrypts a blob produced by Seal
func (s *PassphraseSealer) Open(sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, sealedMagic) {
		return nil, ErrNotSealed
	}
	rest := sealed[len(sealedMagic):]
	if len(rest) < s.config.SaltSize {
		return nil, ErrSealCorrupted
	}
	salt, rest := rest[:s.config.SaltSize], rest[s.config.SaltSize:]

	key, err := s.keyFor(salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrSealCorrupted
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, ErrSealCorrupted
	}
	return plaintext, nil
}

func (s *PassphraseSealer) keyFor(salt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.salt != nil && bytes.Equal(s.salt, salt) {
		return s.key, nil
	}
	key, err := s.derive(salt)
	if err != nil {
		return nil, err
	}
	s.salt = append([]byte(nil), salt...)
	s.key = key
	return key, nil
}

func (s *PassphraseSealer) derive(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(s.passphrase, salt, s.config.SCryptN, s.config.SCryptR, s.config.SCryptP, s.config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
