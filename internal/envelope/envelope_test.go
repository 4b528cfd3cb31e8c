package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte("abandon abandon about")

	env, err := Seal(plaintext, "password")
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Ciphertext) != len(plaintext)+Overhead {
		t.Fatalf("ciphertext length %d, expected %d", len(env.Ciphertext), len(plaintext)+Overhead)
	}

	got, err := Open(env, "password")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted: %q, expected: %q", got, plaintext)
	}

	if _, err := Open(env, "Password"); !errors.Is(err, ErrUndecryptable) {
		t.Fatalf("expected ErrUndecryptable for wrong password, got %v", err)
	}
}

func TestSealIsRandomized(t *testing.T) {
	plaintext := []byte("same plaintext")

	a, err := Seal(plaintext, "pw")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(plaintext, "pw")
	if err != nil {
		t.Fatal(err)
	}

	if a.Salt == b.Salt {
		t.Fatal("two seals produced the same salt")
	}
	if a.Nonce == b.Nonce {
		t.Fatal("two seals produced the same nonce")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Fatal("two seals produced the same ciphertext")
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	env, err := Seal([]byte("secret"), "pw")
	if err != nil {
		t.Fatal(err)
	}
	env.Ciphertext[0] ^= 0x01
	if _, err := Open(env, "pw"); !errors.Is(err, ErrUndecryptable) {
		t.Fatalf("expected ErrUndecryptable for tampered bytes, got %v", err)
	}
}

func TestBadVersion(t *testing.T) {
	env := &Envelope{Version: 2, Ciphertext: make([]byte, Overhead)}
	if _, err := Open(env, "pw"); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	env, err := Seal([]byte("hello"), "pw")
	if err != nil {
		t.Fatal(err)
	}

	data, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Version != env.Version ||
		parsed.Salt != env.Salt ||
		parsed.Nonce != env.Nonce ||
		!bytes.Equal(parsed.Ciphertext, env.Ciphertext) {
		t.Fatal("marshal round trip lost data")
	}

	got, err := Open(parsed, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("decrypted: %q, expected: %q", got, "hello")
	}
}

func TestUnmarshalRejectsBadLengths(t *testing.T) {
	cases := []string{
		`{"ciphertext":"AAAA","nonce":"AAAA","salt":"AAAA","version":1}`,
		`{"ciphertext":"","nonce":"","salt":"","version":1}`,
		`not json`,
	}
	for _, c := range cases {
		if _, err := Unmarshal([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}
