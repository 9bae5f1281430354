package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr, err := NewAddress(EscrowPrefix, raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(EscrowPrefix)+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != EscrowPrefix {
		t.Fatalf("prefix %q", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("bytes mismatch: %x", decoded.Bytes())
	}
	if !decoded.Equal(addr) {
		t.Fatal("decoded address must equal original")
	}
}

func TestNewAddressRejectsWrongLength(t *testing.T) {
	if _, err := NewAddress(EscrowPrefix, make([]byte, 19)); err == nil {
		t.Fatal("expected short address rejection")
	}
	if _, err := NewAddress(EscrowPrefix, make([]byte, 32)); err == nil {
		t.Fatal("expected long address rejection")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "esc1", "not-bech32", "esc1qqqqsyqcyq5rqwzqf!"} {
		if _, err := DecodeAddress(bad); err == nil {
			t.Fatalf("expected rejection for %q", bad)
		}
	}
}

func TestAddressBytesReturnsCopy(t *testing.T) {
	raw := make([]byte, AddressLength)
	addr := MustNewAddress(EscrowPrefix, raw)

	leaked := addr.Bytes()
	leaked[0] = 0xFF
	if addr.Bytes()[0] != 0x00 {
		t.Fatal("address bytes aliased internal buffer")
	}
}

func TestGeneratePrivateKeyDerivesStableAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	first := key.PubKey().Address()
	second := key.PubKey().Address()
	if !first.Equal(second) {
		t.Fatal("address derivation must be deterministic")
	}
	if first.Prefix() != EscrowPrefix {
		t.Fatalf("prefix %q", first.Prefix())
	}

	decoded, err := DecodeAddress(first.String())
	if err != nil {
		t.Fatalf("decode derived address: %v", err)
	}
	if !decoded.Equal(first) {
		t.Fatal("derived address must survive encoding")
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if other.PubKey().Address().Equal(first) {
		t.Fatal("distinct keys produced the same address")
	}
}

func TestPrivateKeyBytesLength(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := len(key.Bytes()); got != 32 {
		t.Fatalf("expected 32-byte scalar, got %d", got)
	}
}
