package neveko25519

import (
	"strings"
	"testing"
)

func TestEncipherDecipher(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	msg := "this is a really long message that will be encrypted by the shared secret"

	wire, err := alice.Cipher(bob.PublicHex(), msg, Encipher)
	if err != nil {
		t.Fatalf("Cipher(Encipher) error = %v", err)
	}
	if wire == msg {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := bob.Cipher(alice.PublicHex(), wire, Decipher)
	if err != nil {
		t.Fatalf("Cipher(Decipher) error = %v", err)
	}
	if got != msg {
		t.Errorf("round trip mismatch: %q != %q", got, msg)
	}
}

func TestDecipherWrongKeyFails(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	eve, _ := GenerateKeyPair()

	msg := "for bob's eyes only"
	wire, err := alice.Cipher(bob.PublicHex(), msg, Encipher)
	if err != nil {
		t.Fatalf("Cipher() error = %v", err)
	}

	got, err := eve.Cipher(alice.PublicHex(), wire, Decipher)
	if err == nil && got == msg {
		t.Error("eavesdropper recovered the plaintext")
	}
}

func TestKeyPairHexRoundTrip(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	restored, err := KeyPairFromHex(pair.SecretHex())
	if err != nil {
		t.Fatalf("KeyPairFromHex() error = %v", err)
	}
	if restored.PublicHex() != pair.PublicHex() {
		t.Error("restored key pair has different public key")
	}
}

func TestPublicHexLength(t *testing.T) {
	pair, _ := GenerateKeyPair()
	if len(pair.PublicHex()) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(pair.PublicHex()))
	}
}

func TestHashToScalarDeterministic(t *testing.T) {
	a := hashToScalar("shared-secret-hex")
	b := hashToScalar("shared-secret-hex")
	if a.Equal(b) != 1 {
		t.Error("hashToScalar not deterministic")
	}
	c := hashToScalar("different-input")
	if a.Equal(c) == 1 {
		t.Error("distinct inputs mapped to the same scalar")
	}
}

func TestCipherRejectsBadHex(t *testing.T) {
	pair, _ := GenerateKeyPair()
	peer, _ := GenerateKeyPair()

	if _, err := pair.Cipher("zzzz", "m", Encipher); err == nil {
		t.Error("expected error for invalid nmpk hex")
	}
	if _, err := pair.Cipher(peer.PublicHex(), "not-hex!", Decipher); err == nil {
		t.Error("expected error for invalid ciphertext hex")
	}
	if _, err := pair.Cipher(strings.Repeat("ff", 32), "m", Encipher); err == nil {
		t.Error("expected error for non-canonical point")
	}
}
