// Package crypt implements the standard security handler (§4.7):
// password-based key derivation for revisions 2, 3, 4 and 6, per-object
// key derivation, and string and stream decryption and encryption
// dispatch. There is no separate embedded-file cipher: embedded-file
// streams go through StreamCipher like every other stream.
//
// Grounded cleanly on the teacher's `model/encryption.go` ("adapted from
// the work of Klemen Vodopivec and Kurt Jung") for the R2-R4 path; the
// R=6 hardened-hash algorithm (2.A/2.B) is written directly from the
// ISO 32000-2 standard text since the teacher's own R=6 code
// (`reader/file/encryption.go`) implements only the deprecated
// single-round SHA-256 "R5" predecessor and has unrelated compile
// errors (see DESIGN.md).
package crypt

import (
	"bytes"
	"fmt"

	"github.com/benoitkugler/pdfcore/internal/crypto"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// Revision is the security handler revision (§4.7, PDF /R value).
type Revision uint8

const (
	R2 Revision = 2
	R3 Revision = 3
	R4 Revision = 4
	R6 Revision = 6
)

// StreamCipher names the algorithm used for streams/strings (§4.7, /CFM).
type StreamCipher uint8

const (
	CipherRC4 StreamCipher = iota
	CipherAESV2               // AES-128-CBC
	CipherAESV3               // AES-256-CBC
	CipherIdentity             // Crypt filter present but set to pass through
)

// Permissions mirrors Table 22's user access permission bits (§4.7).
type Permissions int32

const (
	PermPrint          Permissions = 1 << (3 - 1)
	PermModify         Permissions = 1 << (4 - 1)
	PermCopy           Permissions = 1 << (5 - 1)
	PermAnnotate       Permissions = 1 << (6 - 1)
	PermFillForms      Permissions = 1 << (9 - 1)
	PermExtract        Permissions = 1 << (10 - 1)
	PermAssemble       Permissions = 1 << (11 - 1)
	PermPrintHighRes   Permissions = 1 << (12 - 1)
)

// Handler is a configured standard security handler instance: the
// document's encryption key has already been derived from a password
// (§4.7 key derivation), and Handler can now encrypt/decrypt any
// object's strings and stream content.
type Handler struct {
	Revision     Revision
	KeyBytes     int // file encryption key length, in bytes (5..32)
	StreamCipher StreamCipher
	StringCipher StreamCipher
	EncryptMeta  bool

	fileKey []byte
}

// Dict mirrors the /Encrypt dictionary fields this handler reads from or
// writes to (§4.7).
type Dict struct {
	Filter    model.Name // "Standard"
	V         int
	R         int
	Length    int // key length in bits
	O, U      []byte
	OE, UE    []byte
	Perms     []byte // R6 only: encrypted permissions (§4.7)
	P         int32
	EncryptMetadata bool
	ID0       []byte // first element of the trailer's /ID array
}

// NewHandlerFromDict authenticates against dict using either password
// (empty string tries the default user password) and returns a ready
// Handler, or an EncryptionError if neither the user nor owner password
// matches.
func NewHandlerFromDict(dict Dict, password string) (*Handler, error) {
	switch dict.R {
	case 2, 3, 4:
		return newHandlerRC4AES128(dict, password)
	case 6:
		return newHandlerR6(dict, password)
	default:
		return nil, &pdferr.UnsupportedFeature{Feature: fmt.Sprintf("security handler revision R=%d", dict.R)}
	}
}

// ---------------------------------------------------------------- R2-R4

func newHandlerRC4AES128(dict Dict, password string) (*Handler, error) {
	keyBytes := 5
	if dict.R >= 3 && dict.Length != 0 {
		keyBytes = dict.Length / 8
	}

	pw := crypto.PadPassword(password)

	buf := append([]byte(nil), pw[:]...)
	buf = append(buf, dict.O...)
	buf = append(buf, permissionsBytes(dict.P)...)
	buf = append(buf, dict.ID0...)
	if dict.R >= 4 && !dict.EncryptMetadata {
		buf = append(buf, 0xff, 0xff, 0xff, 0xff)
	}
	sum := crypto.MD5Sum(buf)
	key := sum[:keyBytes]
	if dict.R >= 3 {
		for i := 0; i < 50; i++ {
			sum = crypto.MD5Sum(key)
			key = sum[:keyBytes]
		}
	}

	if computedUserMatches(dict, key) {
		return handlerFromKey(dict, key, keyBytes), nil
	}

	// Try as an owner password: recover the user password, then the key.
	ownerKey := ownerRC4Key(dict, password)
	recoveredUserPW := recoverUserPassword(dict, ownerKey)
	return newHandlerRC4AES128FromUserPassword(dict, recoveredUserPW, keyBytes)
}

func newHandlerRC4AES128FromUserPassword(dict Dict, userPassword []byte, keyBytes int) (*Handler, error) {
	buf := append([]byte(nil), userPassword...)
	buf = append(buf, dict.O...)
	buf = append(buf, permissionsBytes(dict.P)...)
	buf = append(buf, dict.ID0...)
	if dict.R >= 4 && !dict.EncryptMetadata {
		buf = append(buf, 0xff, 0xff, 0xff, 0xff)
	}
	sum := crypto.MD5Sum(buf)
	key := sum[:keyBytes]
	if dict.R >= 3 {
		for i := 0; i < 50; i++ {
			sum = crypto.MD5Sum(key)
			key = sum[:keyBytes]
		}
	}
	if !computedUserMatches(dict, key) {
		return nil, &pdferr.EncryptionError{Reason: "invalid user or owner password"}
	}
	return handlerFromKey(dict, key, keyBytes), nil
}

func computedUserMatches(dict Dict, key []byte) bool {
	u := generateUserHash(Revision(dict.R), key, dict.ID0)
	if dict.R == 2 {
		return bytes.Equal(u[:32], dict.U)
	}
	return len(dict.U) >= 16 && bytes.Equal(u[:16], dict.U[:16])
}

func generateUserHash(rev Revision, key, id0 []byte) []byte {
	if rev == R2 {
		out := make([]byte, 32)
		enc, _ := crypto.RC4(key, crypto.PaddingBytes[:])
		copy(out, enc)
		return out
	}
	buf := append([]byte(nil), crypto.PaddingBytes[:]...)
	buf = append(buf, id0...)
	sum := crypto.MD5Sum(buf)
	hash, _ := crypto.RC4(key, sum[:])
	crypto.XOR19(hash, key)
	out := make([]byte, 32)
	copy(out, hash) // remaining 16 bytes are arbitrary padding, per §4.7
	return out
}

func ownerRC4Key(dict Dict, ownerPassword string) []byte {
	keyBytes := 5
	if dict.R >= 3 && dict.Length != 0 {
		keyBytes = dict.Length / 8
	}
	pw := crypto.PadPassword(ownerPassword)
	sum := crypto.MD5Sum(pw[:])
	if dict.R >= 3 {
		for i := 0; i < 50; i++ {
			sum = crypto.MD5Sum(sum[:])
		}
	}
	return sum[:keyBytes]
}

func recoverUserPassword(dict Dict, ownerKey []byte) []byte {
	if dict.R == 2 {
		out, _ := crypto.RC4(ownerKey, dict.O)
		return out
	}
	buf := append([]byte(nil), dict.O...)
	// reverse the 20-round XOR19 cipher
	for i := 19; i >= 0; i-- {
		roundKey := make([]byte, len(ownerKey))
		for j, b := range ownerKey {
			roundKey[j] = b ^ byte(i)
		}
		dec, _ := crypto.RC4(roundKey, buf)
		buf = dec
	}
	return buf
}

func handlerFromKey(dict Dict, key []byte, keyBytes int) *Handler {
	cipher := CipherRC4
	if dict.V == 4 {
		cipher = CipherAESV2
	}
	return &Handler{
		Revision:     Revision(dict.R),
		KeyBytes:     keyBytes,
		StreamCipher: cipher,
		StringCipher: cipher,
		EncryptMeta:  dict.EncryptMetadata,
		fileKey:      append([]byte(nil), key...),
	}
}

func permissionsBytes(p int32) []byte {
	var out [4]byte
	u := uint32(p)
	out[0] = byte(u)
	out[1] = byte(u >> 8)
	out[2] = byte(u >> 16)
	out[3] = byte(u >> 24)
	return out[:]
}

// ---------------------------------------------------------------- R6

func newHandlerR6(dict Dict, password string) (*Handler, error) {
	pw := truncateUTF8(password, 127)

	if len(dict.U) < 48 {
		return nil, &pdferr.EncryptionError{Reason: "R=6 /U must be at least 48 bytes"}
	}
	userHash, userValidationSalt, userKeySalt := splitHashSalts(dict.U)
	_ = userValidationSalt

	if bytes.Equal(hash2B(pw, userValidationSalt, nil), userHash) {
		intermediate := hash2B(pw, userKeySalt, nil)
		fileKey, err := crypto.AESCBCDecryptNoIV(intermediate, make([]byte, 16), dict.UE)
		if err != nil {
			return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("R=6 UE decryption failed: %v", err)}
		}
		if err := verifyPerms(fileKey, dict); err != nil {
			return nil, err
		}
		return &Handler{Revision: R6, KeyBytes: 32, StreamCipher: CipherAESV3, StringCipher: CipherAESV3, EncryptMeta: dict.EncryptMetadata, fileKey: fileKey}, nil
	}

	if len(dict.O) >= 48 {
		ownerHash, ownerValidationSalt, ownerKeySalt := splitHashSalts(dict.O)
		udata := dict.U[:48]
		if bytes.Equal(hash2B(pw, ownerValidationSalt, udata), ownerHash) {
			intermediate := hash2B(pw, ownerKeySalt, udata)
			fileKey, err := crypto.AESCBCDecryptNoIV(intermediate, make([]byte, 16), dict.OE)
			if err != nil {
				return nil, &pdferr.EncryptionError{Reason: fmt.Sprintf("R=6 OE decryption failed: %v", err)}
			}
			if err := verifyPerms(fileKey, dict); err != nil {
				return nil, err
			}
			return &Handler{Revision: R6, KeyBytes: 32, StreamCipher: CipherAESV3, StringCipher: CipherAESV3, EncryptMeta: dict.EncryptMetadata, fileKey: fileKey}, nil
		}
	}

	return nil, &pdferr.EncryptionError{Reason: "invalid user or owner password"}
}

// verifyPerms decrypts the R=6 /Perms field with the just-derived file key
// and checks it against dict's own /P and /EncryptMetadata (§4.7's "Perms"
// algorithm, Testable Property 4): a mismatch means either the wrong key
// was derived or /P, /EncryptMetadata or /Perms itself was tampered with
// after the owner/user password was set, since the field is only ever
// produced by encrypting those exact values (see generate.go's NewR6).
func verifyPerms(fileKey []byte, dict Dict) error {
	if len(dict.Perms) != 16 {
		return &pdferr.EncryptionError{Reason: "R=6 /Perms must be exactly 16 bytes"}
	}
	plain, err := crypto.AESCBCDecryptNoIV(fileKey, make([]byte, 16), dict.Perms)
	if err != nil {
		return &pdferr.EncryptionError{Reason: fmt.Sprintf("R=6 /Perms decryption failed: %v", err)}
	}
	if len(plain) < 16 {
		return &pdferr.EncryptionError{Reason: "R=6 /Perms decrypted to fewer than 16 bytes"}
	}
	if !bytes.Equal(plain[9:12], []byte("adb")) {
		return &pdferr.EncryptionError{Reason: "R=6 /Perms missing the \"adb\" marker"}
	}
	p := int32(plain[0]) | int32(plain[1])<<8 | int32(plain[2])<<16 | int32(plain[3])<<24
	if p != dict.P {
		return &pdferr.EncryptionError{Reason: "R=6 /Perms does not match /P"}
	}
	wantMeta := byte('F')
	if dict.EncryptMetadata {
		wantMeta = 'T'
	}
	if plain[8] != wantMeta {
		return &pdferr.EncryptionError{Reason: "R=6 /Perms does not match /EncryptMetadata"}
	}
	return nil
}

func splitHashSalts(field []byte) (hash, validationSalt, keySalt []byte) {
	return field[:32], field[32:40], field[40:48]
}

func truncateUTF8(s string, maxBytes int) []byte {
	b := []byte(s)
	if len(b) <= maxBytes {
		return b
	}
	return b[:maxBytes]
}

// hash2B implements ISO 32000-2 algorithm 2.B, the hardened hash used by
// R=6 for password validation and key derivation.
func hash2B(password, salt, udata []byte) []byte {
	input := append(append([]byte(nil), password...), salt...)
	input = append(input, udata...)
	k := sha256Sum(input)

	round := 0
	for {
		k1 := make([]byte, 0, 64*(len(password)+len(k)+len(udata)))
		block := append(append([]byte(nil), password...), k...)
		block = append(block, udata...)
		for i := 0; i < 64; i++ {
			k1 = append(k1, block...)
		}

		e, err := crypto.AESCBCEncryptNoIV(k[:16], k[16:32], k1)
		if err != nil {
			// k[:16]/k[16:32] are always 16 bytes (k is a 32/48/64-byte
			// digest truncated to its first 32 bytes below), so this
			// cannot fail in practice.
			return k[:32]
		}

		sum := sumMod3(e)
		switch sum {
		case 0:
			k = sha256Sum(e)
		case 1:
			k = sha384Sum(e)
		case 2:
			k = sha512Sum(e)
		}

		round++
		if round >= 64 && int(e[len(e)-1]) <= round-32 {
			break
		}
	}
	return k[:32]
}

func sumMod3(e []byte) int {
	sum := 0
	for _, b := range e[:16] {
		sum += int(b)
	}
	return sum % 3
}

func sha256Sum(b []byte) []byte {
	s := crypto.SHA256Sum(b)
	return s[:]
}
func sha384Sum(b []byte) []byte {
	s := crypto.SHA384Sum(b)
	return s[:]
}
func sha512Sum(b []byte) []byte {
	s := crypto.SHA512Sum(b)
	return s[:]
}
