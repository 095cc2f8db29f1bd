// Package auth issues and verifies the stateless bearer tokens used by the
// API.
//
// A token is the URL-safe base64 encoding of
//
//	"{subject}:{expiry_unix_seconds}:{hex_hmac_sha256}"
//
// where the MAC covers "{subject}:{expiry}". Subject and expiry are readable
// by anyone holding the token; only integrity and expiry are enforced.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken is the single outcome for malformed, tampered and expired
// tokens.
var ErrInvalidToken = errors.New("invalid token")

// Codec issues and verifies tokens with a process-wide secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec returns a Codec keyed by secret.
func NewCodec(secret []byte) *Codec {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, now: time.Now}
}

// WithClock returns a copy of the codec that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

// Issue returns a token for subject that expires ttl from now.
func (c *Codec) Issue(subject string, ttl time.Duration) string {
	expiry := c.now().Add(ttl).Unix()
	payload := subject + ":" + strconv.FormatInt(expiry, 10)
	raw := payload + ":" + c.sign(payload)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Verify returns the subject of a valid, unexpired token.
func (c *Codec) Verify(token string) (string, error) {
	raw, err := decode(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	// The subject may itself contain ':' so split from the right.
	sigAt := strings.LastIndexByte(raw, ':')
	if sigAt <= 0 {
		return "", ErrInvalidToken
	}
	payload, sig := raw[:sigAt], raw[sigAt+1:]
	expAt := strings.LastIndexByte(payload, ':')
	if expAt < 0 {
		return "", ErrInvalidToken
	}
	subject, expiryText := payload[:expAt], payload[expAt+1:]

	if !hmac.Equal([]byte(c.sign(payload)), []byte(sig)) {
		return "", ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(expiryText, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if expiry <= c.now().Unix() {
		return "", ErrInvalidToken
	}
	return subject, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// decode accepts canonically padded or fully unpadded URL-safe base64.
func decode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	enc := base64.RawURLEncoding
	if strings.Contains(token, "=") {
		enc = base64.URLEncoding
	}
	b, err := enc.DecodeString(token)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
