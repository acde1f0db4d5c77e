// Package idcodec turns internal numeric ids into opaque public tokens and back.
//
// Tokens are deterministic: the same id always encodes to the same token, so
// they can be bookmarked and compared. The nonce is a keyed BLAKE2b digest of
// the id, and decoding checks it, so a token only decodes if this key made it.
package idcodec

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidID = errors.New("invalid identifier")

type Codec struct {
	aeadKey []byte
	macKey  []byte
}

// New derives the cipher and nonce keys from secret.
func New(secret string) (*Codec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("id secret must be at least 16 bytes")
	}
	root := blake2b.Sum256([]byte(secret))
	aeadKey := blake2b.Sum256(append([]byte("coinrounds/aead/"), root[:]...))
	macKey := blake2b.Sum256(append([]byte("coinrounds/nonce/"), root[:]...))
	return &Codec{aeadKey: aeadKey[:], macKey: macKey[:]}, nil
}

func (c *Codec) Encode(id int64) string {
	plain := make([]byte, 8)
	binary.BigEndian.PutUint64(plain, uint64(id))
	nonce := c.nonce(plain)
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		// Key length is fixed at construction.
		panic(err)
	}
	out := aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(out)
}

func (c *Codec) Decode(token string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if len(raw) != chacha20poly1305.NonceSizeX+8+chacha20poly1305.Overhead {
		return 0, fmt.Errorf("%w: bad length", ErrInvalidID)
	}
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return 0, err
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if subtle.ConstantTimeCompare(nonce, c.nonce(plain)) != 1 {
		return 0, fmt.Errorf("%w: nonce mismatch", ErrInvalidID)
	}
	return int64(binary.BigEndian.Uint64(plain)), nil
}

// DecodeOrPlain accepts a token, or a bare decimal id when allowPlain is set.
// The CLI and local tooling use plain ids against a dev server.
func (c *Codec) DecodeOrPlain(s string, allowPlain bool) (int64, error) {
	if allowPlain {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return c.Decode(s)
}

func (c *Codec) nonce(plain []byte) []byte {
	h, err := blake2b.New(chacha20poly1305.NonceSizeX, c.macKey)
	if err != nil {
		panic(err)
	}
	h.Write(plain)
	return h.Sum(nil)
}
