// Package cryptoutil implements the encryption-at-rest helper described in
// spec.md §4.12: AES-256-GCM with a fresh 12-byte IV per encryption, a
// length-prefixed wire format carrying the key id for rotation support, and
// a PLAIN fallback mode when encryption is disabled at construction.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
)

const plainPrefix = "PLAIN:"

// Box encrypts and decrypts sensitive records. A zero-value Box with
// enabled=false behaves as a pass-through PLAIN codec.
type Box struct {
	enabled bool
	keyID   string
	gcm     cipher.AEAD
}

// New constructs a Box. key must decode to exactly 32 bytes (256 bits) when
// enabled; key size is validated here, at construction, per spec.md §4.12.
func New(enabled bool, keyID, base64Key string) (*Box, error) {
	if !enabled {
		return &Box{enabled: false}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, autherr.Wrap(autherr.ValidationFailure, "decode encryption key", err)
	}
	if len(raw) != 32 {
		return nil, autherr.New(autherr.ValidationFailure, "encryption key must be 256 bits")
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, autherr.Wrap(autherr.ValidationFailure, "init aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, autherr.Wrap(autherr.ValidationFailure, "init gcm", err)
	}

	return &Box{enabled: true, keyID: keyID, gcm: gcm}, nil
}

// Encrypt produces the wire format
// [1-byte keyIdLen][keyId][12-byte IV][ciphertext+tag], or the PLAIN
// fallback when the Box is disabled.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	if !b.enabled {
		encoded := base64.StdEncoding.EncodeToString(plaintext)
		return []byte(plainPrefix + encoded), nil
	}

	if len(b.keyID) > 255 {
		return nil, autherr.New(autherr.ValidationFailure, "key id too long")
	}

	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "generate iv", err)
	}

	ciphertext := b.gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 1+len(b.keyID)+len(nonce)+len(ciphertext))
	out = append(out, byte(len(b.keyID)))
	out = append(out, []byte(b.keyID)...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt accepts either the PLAIN form (regardless of the Box's own
// enabled state) or the AES-GCM wire format. A key-id mismatch is logged
// but non-fatal, to support rotation (spec.md §4.12).
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	if strings.HasPrefix(string(data), plainPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(string(data), plainPrefix))
		if err != nil {
			return nil, autherr.Wrap(autherr.ValidationFailure, "decode plain payload", err)
		}
		return decoded, nil
	}

	if !b.enabled {
		return nil, autherr.New(autherr.ValidationFailure, "encrypted payload but encryption is disabled")
	}

	if len(data) < 1 {
		return nil, autherr.New(autherr.ValidationFailure, "empty ciphertext")
	}
	keyIDLen := int(data[0])
	if len(data) < 1+keyIDLen+b.gcm.NonceSize() {
		return nil, autherr.New(autherr.ValidationFailure, "truncated ciphertext")
	}

	keyID := string(data[1 : 1+keyIDLen])
	rest := data[1+keyIDLen:]
	nonce := rest[:b.gcm.NonceSize()]
	ciphertext := rest[b.gcm.NonceSize():]

	if keyID != b.keyID {
		logx.Errorf("encryption key id mismatch on decrypt: got %q, have %q", keyID, b.keyID)
	}

	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.ValidationFailure, "decrypt payload", err)
	}
	return plaintext, nil
}

// fieldSeparator is the NUL byte used to delimit Group record fields.
const fieldSeparator = "\x00"

// ErrSeparatorInField is returned when a field value contains the NUL
// separator, which would corrupt serialization.
var ErrSeparatorInField = errors.New("field value contains the reserved separator byte")

// SerializeGroupFields joins Group fields with a NUL separator
// (spec.md §4.12: id, displayName, description, comma-joined-permissions,
// createdAt, updatedAt). The separator must not appear in any field.
func SerializeGroupFields(fields ...string) (string, error) {
	for _, f := range fields {
		if strings.Contains(f, fieldSeparator) {
			return "", ErrSeparatorInField
		}
	}
	return strings.Join(fields, fieldSeparator), nil
}

// DeserializeGroupFields splits a NUL-separated record back into fields.
func DeserializeGroupFields(serialized string) []string {
	return strings.Split(serialized, fieldSeparator)
}
