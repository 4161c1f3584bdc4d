package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/paycapture/internal/gateway/domain"
	"golang.org/x/crypto/hkdf"
	"gorm.io/datatypes"
)

const (
	payloadVersion = 1
	keyInfo        = "paycapture/gateway-settings/v1"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type secretFields struct {
	ClientSecret string `json:"client_secret"`
}

// sealer encrypts gateway secrets with AES-256-GCM under an HKDF-derived key.
type sealer struct {
	key []byte
}

func newSealer(secret string) (*sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &sealer{}, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive gateway key: %w", err)
	}
	return &sealer{key: key}, nil
}

func (s *sealer) seal(fields secretFields) (datatypes.JSON, error) {
	if s == nil || len(s.key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	encoded := encryptedPayload{
		Version:    payloadVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *sealer) open(raw datatypes.JSON) (secretFields, error) {
	var fields secretFields
	if s == nil || len(s.key) == 0 {
		return fields, domain.ErrEncryptionKeyMissing
	}

	var payload encryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fields, fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}
	if payload.Version != payloadVersion {
		return fields, fmt.Errorf("%w: unsupported payload version %d", domain.ErrDecryptFailed, payload.Version)
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return fields, fmt.Errorf("%w: nonce", domain.ErrDecryptFailed)
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return fields, fmt.Errorf("%w: ciphertext", domain.ErrDecryptFailed)
	}

	gcm, err := s.aead()
	if err != nil {
		return fields, err
	}
	if len(nonce) != gcm.NonceSize() {
		return fields, fmt.Errorf("%w: nonce size", domain.ErrDecryptFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fields, fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return fields, fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}
	return fields, nil
}

func (s *sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
