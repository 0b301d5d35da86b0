package chaty

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// HMACSigner signs data with HMAC-SHA256 and encodes the MAC as URL safe base64.
// The key is read only after construction so a signer is safe for concurrent use.
type HMACSigner struct {
	key []byte
}

var _ Signer = (*HMACSigner)(nil)

var errEmptySigningKey = goerrors.New("signing key must not be empty", goerrors.CategoryValidation).
	WithTextCode("EMPTY_SIGNING_KEY").
	WithCode(goerrors.CodeInternal)

// NewHMACSigner returns a signer for key. An empty key is rejected.
func NewHMACSigner(key string) (*HMACSigner, error) {
	if key == "" {
		return nil, errEmptySigningKey
	}
	return &HMACSigner{key: []byte(key)}, nil
}

// Sign returns base64url(HMAC-SHA256(key, data)), padded.
// Same key and data always yield the same signature.
func (s *HMACSigner) Sign(data string) (string, error) {
	return base64.URLEncoding.EncodeToString(s.mac(data)), nil
}

// Verify checks signature against data in constant time. Any decode failure
// or mismatch returns ErrInvalidSignature and nothing else.
func (s *HMACSigner) Verify(data, signature string) error {
	got, err := decodeSignature(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, s.mac(data)) {
		return ErrInvalidSignature
	}

	return nil
}

func (s *HMACSigner) mac(data string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// decodeSignature accepts padded and unpadded URL safe base64. Only the
// padding a 32 byte MAC can carry is stripped; anything else must decode as is.
func decodeSignature(signature string) ([]byte, error) {
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	if len(signature) == base64.URLEncoding.EncodedLen(sha256.Size) {
		signature = strings.TrimSuffix(signature, "=")
	}
	got, err := base64.RawURLEncoding.Strict().DecodeString(signature)
	if err != nil {
		return nil, err
	}
	if len(got) != sha256.Size {
		return nil, ErrInvalidSignature
	}
	return got, nil
}
