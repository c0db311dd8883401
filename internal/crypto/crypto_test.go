package crypto

import (
	"bytes"
	"testing"
)

func TestPadPassword(t *testing.T) {
	padded := PadPassword("")
	if !bytes.Equal(padded[:], PaddingBytes[:]) {
		t.Fatal("an empty password should pad to exactly PaddingBytes")
	}

	padded = PadPassword("secret")
	if !bytes.Equal(padded[:6], []byte("secret")) {
		t.Fatalf("password prefix not preserved: % x", padded[:6])
	}
	if !bytes.Equal(padded[6:], PaddingBytes[:26]) {
		t.Fatalf("padding suffix mismatch: % x", padded[6:])
	}
}

func TestPadPasswordTruncatesLongInput(t *testing.T) {
	long := make([]byte, 40)
	for i := range long {
		long[i] = 'x'
	}
	padded := PadPassword(string(long))
	if !bytes.Equal(padded[:], long[:32]) {
		t.Fatal("a password longer than 32 bytes must be truncated, not padded")
	}
}

func TestRC4IsItsOwnInverse(t *testing.T) {
	key := []byte("a key")
	plain := []byte("attack at dawn")
	cipher, err := RC4(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	back, err := RC4(key, cipher)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, plain) {
		t.Fatalf("RC4(key, RC4(key, plain)) = %q, want %q", back, plain)
	}
}

func TestXOR19Symmetric(t *testing.T) {
	key := []byte("0123456789abcdef")
	buf := []byte("hello world")
	orig := append([]byte(nil), buf...)
	XOR19(buf, key)
	XOR19(buf, key)
	if !bytes.Equal(buf, orig) {
		t.Fatal("applying XOR19 twice with the same key must be the identity")
	}
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	copy(key, "0123456789abcdef")
	plain := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := AESCBCEncrypt(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := AESCBCDecrypt(key, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", pt, plain)
	}
}

func TestAESCBCDecryptEmptyCiphertext(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	pt, err := AESCBCDecrypt(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if pt != nil {
		t.Fatalf("decrypting an IV with no ciphertext bytes should yield nil, got %v", pt)
	}
}

func TestAESCBCDecryptLenientPadding(t *testing.T) {
	key := make([]byte, 16)
	copy(key, "0123456789abcdef")
	// one block of plaintext whose last byte is not a valid pad length
	plain := make([]byte, 16)
	copy(plain, "not padded data!")
	ct, err := AESCBCEncryptNoIV(key, make([]byte, 16), plain)
	if err != nil {
		t.Fatal(err)
	}
	full := append(make([]byte, 16), ct...) // zero IV prefix
	pt, err := AESCBCDecrypt(key, full)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("malformed padding should be treated as no padding: got %q, want %q", pt, plain)
	}
}

func TestAESCBCNoIVRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	iv := make([]byte, 16)
	plain := make([]byte, 32)
	copy(plain, "exactly two aes blocks of data!!")

	ct, err := AESCBCEncryptNoIV(key, iv, plain)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := AESCBCDecryptNoIV(key, iv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", pt, plain)
	}
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 16 {
		t.Fatalf("len = %d, want 16", len(b))
	}
}

func TestDigests(t *testing.T) {
	data := []byte("hash me")
	if MD5Sum(data) == ([16]byte{}) {
		t.Error("MD5Sum should not be all zero")
	}
	if SHA256Sum(data) == ([32]byte{}) {
		t.Error("SHA256Sum should not be all zero")
	}
	if SHA384Sum(data) == ([48]byte{}) {
		t.Error("SHA384Sum should not be all zero")
	}
	if SHA512Sum(data) == ([64]byte{}) {
		t.Error("SHA512Sum should not be all zero")
	}
}
