package sealbox

import (
	"bytes"
	"errors"
	"testing"
)

func deterministicReader(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

func TestSealOpenRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	msg := []byte("meet at the usual place")
	box, err := Seal(kp.Public, msg, []byte("scope"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(box) != len(msg)+Overhead {
		t.Fatalf("box length = %d, want %d", len(box), len(msg)+Overhead)
	}
	got, err := Open(kp, box, []byte("scope"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("plaintext mismatch: %q", got)
	}
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	kp, _ := GenerateKeyPair()
	other, _ := GenerateKeyPair()
	box, err := Seal(kp.Public, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	tampered := append([]byte(nil), box...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := Open(kp, tampered, nil); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if _, err := Open(other, box, nil); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected auth failure for wrong key, got %v", err)
	}
	if _, err := Open(kp, box, []byte("other scope")); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected auth failure for wrong aad, got %v", err)
	}
	if _, err := Open(kp, box[:10], nil); !errors.Is(err, ErrMalformedBox) {
		t.Fatalf("expected malformed box, got %v", err)
	}
	bad := append([]byte(nil), box...)
	bad[0] = 0x7f
	if _, err := Open(kp, bad, nil); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected unknown version, got %v", err)
	}
}

func TestDeterministicRandom(t *testing.T) {
	seal := func() []byte {
		restore := UseDeterministicRandom(deterministicReader(256))
		defer restore()
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("keypair: %v", err)
		}
		box, err := Seal(kp.Public, []byte("hello"), nil)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		return box
	}
	if a, b := seal(), seal(); !bytes.Equal(a, b) {
		t.Fatalf("deterministic source produced different boxes")
	}
}

func TestStringHelpers(t *testing.T) {
	kp, _ := GenerateKeyPair()
	parsed, err := ParsePublicKey(kp.Public.String())
	if err != nil || parsed != kp.Public {
		t.Fatalf("public key round trip failed: %v", err)
	}
	if _, err := ParsePublicKey("not-a-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	box, err := SealString(kp.Public, []byte("x"), nil)
	if err != nil {
		t.Fatalf("seal string: %v", err)
	}
	got, err := OpenString(kp, box, nil)
	if err != nil || string(got) != "x" {
		t.Fatalf("open string: %q %v", got, err)
	}
}
