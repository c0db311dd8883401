package crypt

import (
	"github.com/benoitkugler/pdfcore/internal/crypto"
)

// GeneratedDict holds the /O, /U, /OE, /UE, /Perms byte strings produced
// when setting up a new standard security handler for a document being
// written (§4.7, PDF 7.6.4/7.6.5 "Computing..." algorithms) — the write
// direction counterpart of NewHandlerFromDict.
type GeneratedDict struct {
	O, U, OE, UE, Perms []byte
}

// NewRC4AES128 sets up R2/R3/R4 encryption (§4.7), grounded directly on
// the teacher's `model/encryption.go` UseStandardEncryptionHandler /
// generateOwnerHash / generateUserHash.
func NewRC4AES128(rev Revision, keyBytes int, userPassword, ownerPassword string, perms int32, id0 []byte, encryptMetadata bool) (*Handler, GeneratedDict, error) {
	userPad := crypto.PadPassword(userPassword)
	ownerPad := crypto.PadPassword(ownerPassword)

	o := generateOwnerHashBytes(rev, keyBytes, userPad, ownerPad)

	buf := append([]byte(nil), userPad[:]...)
	buf = append(buf, o...)
	buf = append(buf, permissionsBytes(perms)...)
	buf = append(buf, id0...)
	if rev >= R4 && !encryptMetadata {
		buf = append(buf, 0xff, 0xff, 0xff, 0xff)
	}
	sum := crypto.MD5Sum(buf)
	key := sum[:keyBytes]
	if rev >= R3 {
		for i := 0; i < 50; i++ {
			sum = crypto.MD5Sum(key)
			key = sum[:keyBytes]
		}
	}

	u := generateUserHash(rev, key, id0)

	cipher := CipherRC4
	if rev == R4 {
		cipher = CipherAESV2
	}
	h := &Handler{Revision: rev, KeyBytes: keyBytes, StreamCipher: cipher, StringCipher: cipher, EncryptMeta: encryptMetadata, fileKey: key}
	return h, GeneratedDict{O: o, U: u}, nil
}

func generateOwnerHashBytes(rev Revision, keyBytes int, userPad, ownerPad [32]byte) []byte {
	sum := crypto.MD5Sum(ownerPad[:])
	if rev >= R3 {
		for i := 0; i < 50; i++ {
			sum = crypto.MD5Sum(sum[:])
		}
	}
	firstKey := sum[:keyBytes]
	out, _ := crypto.RC4(firstKey, userPad[:])
	if rev >= R3 {
		crypto.XOR19(out, firstKey)
	}
	padded := make([]byte, 32)
	copy(padded, out)
	return padded
}

// NewR6 sets up R=6 (AES-256) encryption (§4.7): a random 32-byte file
// key is generated, then wrapped for both the user and owner password
// using ISO 32000-2 algorithm 2.B (hash2B) and AES-256-CBC with no
// padding and a zero IV, matching the teacher's (incomplete) R=6
// validation code's use of SHA-256 generalized to the full hardened hash.
func NewR6(userPassword, ownerPassword string, perms int32, encryptMetadata bool) (*Handler, GeneratedDict, error) {
	fileKey, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, GeneratedDict{}, err
	}

	userValidationSalt, err := crypto.RandomBytes(8)
	if err != nil {
		return nil, GeneratedDict{}, err
	}
	userKeySalt, err := crypto.RandomBytes(8)
	if err != nil {
		return nil, GeneratedDict{}, err
	}
	pw := truncateUTF8(userPassword, 127)
	uHash := hash2B(pw, userValidationSalt, nil)
	u := concatBytes(uHash, userValidationSalt, userKeySalt)

	userIntermediate := hash2B(pw, userKeySalt, nil)
	ue, err := crypto.AESCBCEncryptNoIV(userIntermediate, make([]byte, 16), fileKey)
	if err != nil {
		return nil, GeneratedDict{}, err
	}

	ownerValidationSalt, err := crypto.RandomBytes(8)
	if err != nil {
		return nil, GeneratedDict{}, err
	}
	ownerKeySalt, err := crypto.RandomBytes(8)
	if err != nil {
		return nil, GeneratedDict{}, err
	}
	opw := truncateUTF8(ownerPassword, 127)
	oHash := hash2B(opw, ownerValidationSalt, u)
	o := concatBytes(oHash, ownerValidationSalt, ownerKeySalt)

	ownerIntermediate := hash2B(opw, ownerKeySalt, u)
	oe, err := crypto.AESCBCEncryptNoIV(ownerIntermediate, make([]byte, 16), fileKey)
	if err != nil {
		return nil, GeneratedDict{}, err
	}

	// /Perms: 16 bytes, bytes 0-3 = permissions (LE), bytes 4-7 = 0xFF,
	// byte 8 = 'T'/'F' for EncryptMetadata, bytes 9-11 = "adb", bytes
	// 12-15 random, AES-256-ECB encrypted
	// with the file key (§4.7 "Perms" algorithm). CBC with a zero IV and
	// discarding it is equivalent to ECB for a single block.
	permsPlain := make([]byte, 16)
	permsPlain[0] = byte(perms)
	permsPlain[1] = byte(perms >> 8)
	permsPlain[2] = byte(perms >> 16)
	permsPlain[3] = byte(perms >> 24)
	permsPlain[4] = 0xff
	permsPlain[5] = 0xff
	permsPlain[6] = 0xff
	permsPlain[7] = 0xff
	if encryptMetadata {
		permsPlain[8] = 'T'
	} else {
		permsPlain[8] = 'F'
	}
	permsPlain[9], permsPlain[10], permsPlain[11] = 'a', 'd', 'b'
	rnd, err := crypto.RandomBytes(4)
	if err != nil {
		return nil, GeneratedDict{}, err
	}
	copy(permsPlain[12:16], rnd)
	permsCipher, err := crypto.AESCBCEncryptNoIV(fileKey, make([]byte, 16), permsPlain)
	if err != nil {
		return nil, GeneratedDict{}, err
	}

	h := &Handler{Revision: R6, KeyBytes: 32, StreamCipher: CipherAESV3, StringCipher: CipherAESV3, EncryptMeta: encryptMetadata, fileKey: fileKey}
	return h, GeneratedDict{O: o, U: u, OE: oe, UE: ue, Perms: permsCipher}, nil
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
