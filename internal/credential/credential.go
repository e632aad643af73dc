// Package credential implements the stateless, HMAC-signed opaque tokens used
// for identity (X-USER-ID) and room (X-ROOM-ID) headers.
//
// Wire format:
//
//	base64(field1:field2:...) + "." + hex(HMAC-SHA256(secret, base64part))
//
// The codec never stores the secret; callers pass it on every call.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	fieldDelimiter = ":"
	partSeparator  = "."
)

// ErrUnauthorized is returned for malformed, forged or altered tokens.
var ErrUnauthorized = errors.New("credential: unauthorized")

// ErrInvalidField is returned by Encode when a field value contains the
// field delimiter and could not be decoded back unchanged.
var ErrInvalidField = errors.New("credential: field contains delimiter")

// Encode joins fields, base64-encodes the result and appends the hex HMAC of
// the base64 text.
func Encode(secret []byte, fields ...string) (string, error) {
	for i, f := range fields {
		if strings.Contains(f, fieldDelimiter) {
			return "", fmt.Errorf("field %d: %w", i, ErrInvalidField)
		}
	}
	joined := strings.Join(fields, fieldDelimiter)
	if joined == "" {
		return "", fmt.Errorf("empty payload: %w", ErrInvalidField)
	}
	payload := base64.StdEncoding.EncodeToString([]byte(joined))
	return payload + partSeparator + sign(secret, payload), nil
}

// Decode verifies the signature and returns exactly fieldCount fields.
// Field semantics are left to the caller.
func Decode(token string, secret []byte, fieldCount int) ([]string, error) {
	payload, signature, ok := strings.Cut(token, partSeparator)
	if !ok || payload == "" || signature == "" {
		return nil, ErrUnauthorized
	}

	// Compare the hex text itself: decoding first would accept case-flipped digits.
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return nil, ErrUnauthorized
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrUnauthorized
	}
	fields := strings.Split(string(raw), fieldDelimiter)
	if len(fields) != fieldCount {
		return nil, ErrUnauthorized
	}
	return fields, nil
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
