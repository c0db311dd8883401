package crypt

import (
	"github.com/benoitkugler/pdfcore/internal/crypto"
	"github.com/benoitkugler/pdfcore/model"
	"github.com/benoitkugler/pdfcore/pdferr"
)

// objectKey derives the per-object encryption key (§4.7 / PDF 7.6.2,
// algorithm 1): the file key plus the object's (low 3 bytes oid, low 2
// bytes gen), MD5-hashed, truncated to min(fileKeyLen+5, 16) bytes. For
// AESV3 (R=6), the file encryption key is used directly with no
// per-object derivation (§4.7: "AES-256 does not use the object number
// and generation number in the encryption key").
func (h *Handler) objectKey(ref model.Reference, aes bool) []byte {
	if h.Revision == R6 {
		return h.fileKey
	}

	var nbuf [5]byte
	nbuf[0] = byte(ref.Oid)
	nbuf[1] = byte(ref.Oid >> 8)
	nbuf[2] = byte(ref.Oid >> 16)
	nbuf[3] = byte(ref.Gen)
	nbuf[4] = byte(ref.Gen >> 8)

	buf := append(append([]byte(nil), h.fileKey...), nbuf[:]...)
	if aes {
		buf = append(buf, 0x73, 0x41, 0x6C, 0x54) // "sAlT", per §4.7 AESV2 key derivation
	}
	sum := crypto.MD5Sum(buf)

	size := len(h.fileKey) + 5
	if size > 16 {
		size = 16
	}
	return sum[:size]
}

// DecryptBytes reverses the encryption of a string or stream's payload
// belonging to ref, dispatching on cipher.
func (h *Handler) DecryptBytes(ref model.Reference, cipher StreamCipher, data []byte) ([]byte, error) {
	switch cipher {
	case CipherIdentity:
		return data, nil
	case CipherRC4:
		return crypto.RC4(h.objectKey(ref, false), data)
	case CipherAESV2, CipherAESV3:
		key := h.objectKey(ref, true)
		if h.Revision == R6 {
			key = h.fileKey
		}
		return crypto.AESCBCDecrypt(key, data)
	default:
		return nil, &pdferr.UnsupportedFeature{Feature: "unknown stream cipher"}
	}
}

// EncryptBytes is the write-side counterpart of DecryptBytes.
func (h *Handler) EncryptBytes(ref model.Reference, cipher StreamCipher, data []byte) ([]byte, error) {
	switch cipher {
	case CipherIdentity:
		return data, nil
	case CipherRC4:
		return crypto.RC4(h.objectKey(ref, false), data)
	case CipherAESV2, CipherAESV3:
		key := h.objectKey(ref, true)
		if h.Revision == R6 {
			key = h.fileKey
		}
		return crypto.AESCBCEncrypt(key, data)
	default:
		return nil, &pdferr.UnsupportedFeature{Feature: "unknown stream cipher"}
	}
}

// DecryptStream returns a copy of s whose Content holds the decrypted
// bytes of the stream object's raw content. Object
// streams and xref streams are never encrypted (§4.2, §4.6: they must be
// directly readable to bootstrap the rest of the document), so callers
// must not pass those through this method.
func (h *Handler) DecryptStream(ref model.Reference, s model.Stream) (model.Stream, error) {
	out := s
	decrypted, err := h.DecryptBytes(ref, h.StreamCipher, s.Content)
	if err != nil {
		return s, err
	}
	out.Content = decrypted
	return out, nil
}

// DecryptString decrypts a literal/hex string value belonging to ref.
func (h *Handler) DecryptString(ref model.Reference, s model.String) (model.String, error) {
	decrypted, err := h.DecryptBytes(ref, h.StringCipher, s.Value)
	if err != nil {
		return s, err
	}
	out := s
	out.Value = decrypted
	return out, nil
}

// EncryptObject is the write-side counterpart of DecryptObject: it walks
// obj recursively, encrypting every String's value and every Stream's
// Content, using ref as the containing indirect object's identity.
func (h *Handler) EncryptObject(ref model.Reference, obj model.Object) (model.Object, error) {
	switch v := obj.(type) {
	case model.String:
		enc, err := h.EncryptBytes(ref, h.StringCipher, v.Value)
		if err != nil {
			return nil, err
		}
		out := v
		out.Value = enc
		return out, nil
	case model.Array:
		out := make(model.Array, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			enc, err := h.EncryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case model.Dictionary:
		out := model.NewDictionary()
		for _, k := range v.Keys() {
			item := v.Get(k)
			if item == nil {
				continue
			}
			enc, err := h.EncryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			out.Set(k, enc)
		}
		return out, nil
	case model.Stream:
		dict, err := h.EncryptObject(ref, v.Dict)
		if err != nil {
			return nil, err
		}
		out := v
		out.Dict = dict.(model.Dictionary)
		enc, err := h.EncryptBytes(ref, h.StreamCipher, v.Content)
		if err != nil {
			return nil, err
		}
		out.Content = enc
		return out, nil
	default:
		return obj, nil
	}
}

// DecryptObject walks obj recursively, decrypting every String it finds
// and the Content of every Stream, using ref as the containing indirect
// object's identity (strings nested inside an indirect object's value
// share that object's per-object key, §4.7).
func (h *Handler) DecryptObject(ref model.Reference, obj model.Object) (model.Object, error) {
	switch v := obj.(type) {
	case model.String:
		return h.DecryptString(ref, v)
	case model.Array:
		out := make(model.Array, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			dec, err := h.DecryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	case model.Dictionary:
		out := model.NewDictionary()
		for _, k := range v.Keys() {
			item := v.Get(k)
			if item == nil {
				continue
			}
			dec, err := h.DecryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			out.Set(k, dec)
		}
		return out, nil
	case model.Stream:
		dict, err := h.DecryptObject(ref, v.Dict)
		if err != nil {
			return nil, err
		}
		out := v
		out.Dict = dict.(model.Dictionary)
		decrypted, err := h.DecryptBytes(ref, h.StreamCipher, v.Content)
		if err != nil {
			return nil, err
		}
		out.Content = decrypted
		return out, nil
	default:
		return obj, nil
	}
}
