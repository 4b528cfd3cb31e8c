// Package envelope seals secret material under a password. Keys are derived
// with scrypt and the payload is encrypted with XSalsa20-Poly1305, matching
// the envelope format the mobile clients read.
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Version 1 pins scrypt to N=2^18, r=8, p=1, dkLen=32. The parameters are not
// configurable; a new version number covers any future migration.
const Version = 1

const (
	scryptN      = 1 << 18
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	// SaltLen and NonceLen are fixed by the version-1 wire format.
	SaltLen  = 32
	NonceLen = 24

	// Overhead is the Poly1305 tag appended to every ciphertext.
	Overhead = secretbox.Overhead
)

var (
	// ErrBadVersion is returned when an envelope carries an unknown version.
	ErrBadVersion = errors.New("unknown envelope version")

	// ErrUndecryptable is returned when authentication fails, for a wrong
	// password and for tampered bytes alike. The Poly1305 check inside
	// secretbox is constant-time, so the two are indistinguishable.
	ErrUndecryptable = errors.New("fail to decrypt: wrong password or corrupted data")

	// ErrMalformed is returned when decoded field lengths do not match the
	// version-1 format.
	ErrMalformed = errors.New("malformed envelope")
)

// Envelope is one sealed payload together with everything needed to open it
// again, except the password.
type Envelope struct {
	Ciphertext []byte
	Nonce      [NonceLen]byte
	Salt       [SaltLen]byte
	Version    int
}

// envelopeJSON is the storage form, base64 std-encoded with padding.
type envelopeJSON struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
	Version    int    `json:"version"`
}

// Seal encrypts plaintext under password with a fresh salt and nonce. The
// derived key is wiped before returning, and two seals of the same plaintext
// never produce the same envelope.
func Seal(plaintext []byte, password string) (*Envelope, error) {
	env := &Envelope{Version: Version}
	if _, err := io.ReadFull(rand.Reader, env.Salt[:]); err != nil {
		return nil, fmt.Errorf("fail to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, env.Nonce[:]); err != nil {
		return nil, fmt.Errorf("fail to generate nonce: %w", err)
	}

	key, err := deriveKey(password, env.Salt[:])
	if err != nil {
		return nil, err
	}
	defer zero(key[:])

	env.Ciphertext = secretbox.Seal(nil, plaintext, &env.Nonce, key)
	return env, nil
}

// Open decrypts an envelope. It returns ErrBadVersion for an unknown version
// and ErrUndecryptable when the authenticator does not verify.
func Open(env *Envelope, password string) ([]byte, error) {
	if env.Version != Version {
		return nil, fmt.Errorf("version %d: %w", env.Version, ErrBadVersion)
	}

	key, err := deriveKey(password, env.Salt[:])
	if err != nil {
		return nil, err
	}
	defer zero(key[:])

	plaintext, ok := secretbox.Open(nil, env.Ciphertext, &env.Nonce, key)
	if !ok {
		return nil, ErrUndecryptable
	}
	return plaintext, nil
}

// MarshalJSON implements json.Marshaler so records embedding an envelope
// serialize it as the nested wire object.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return e.Marshal()
}

// UnmarshalJSON implements json.Unmarshaler, validating field lengths.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	parsed, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// Marshal serializes the envelope to its JSON storage form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Ciphertext: base64.StdEncoding.EncodeToString(e.Ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(e.Nonce[:]),
		Salt:       base64.StdEncoding.EncodeToString(e.Salt[:]),
		Version:    e.Version,
	})
}

// Unmarshal parses the JSON storage form, validating field lengths.
func Unmarshal(data []byte) (*Envelope, error) {
	var rec envelopeJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("fail to parse envelope json: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("fail to decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("fail to decode nonce: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("fail to decode salt: %w", err)
	}
	if len(nonce) != NonceLen || len(salt) != SaltLen || len(ciphertext) < Overhead {
		return nil, ErrMalformed
	}

	env := &Envelope{Ciphertext: ciphertext, Version: rec.Version}
	copy(env.Nonce[:], nonce)
	copy(env.Salt[:], salt)
	return env, nil
}

func deriveKey(password string, salt []byte) (*[scryptKeyLen]byte, error) {
	raw, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("fail to derive key: %w", err)
	}
	var key [scryptKeyLen]byte
	copy(key[:], raw)
	zero(raw)
	return &key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
