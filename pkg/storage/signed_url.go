package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operations a signed grant can authorize against the local provider.
const (
	OpPut     = "put"
	OpPutPart = "part"
	OpGet     = "get"
)

// Grant is the payload carried by a signed object URL.
type Grant struct {
	Op          string `json:"op"`
	Key         string `json:"key"`
	UploadID    string `json:"uid,omitempty"`
	PartNumber  int    `json:"pn,omitempty"`
	ContentType string `json:"ct,omitempty"`
	Filename    string `json:"fn,omitempty"`
	Attachment  bool   `json:"att,omitempty"`
	ExpiresAt   int64  `json:"exp"`
}

// Expiry returns the grant expiry as a time.
func (g Grant) Expiry() time.Time {
	return time.Unix(g.ExpiresAt, 0)
}

// SignedURLSigner creates and validates HMAC-signed object grants.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and default TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns a token for the grant, valid for ttl (or the signer default).
func (s *SignedURLSigner) Sign(grant Grant, ttl time.Duration) (string, time.Time, error) {
	if grant.Op == "" || grant.Key == "" {
		return "", time.Time{}, fmt.Errorf("grant op and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	expiresAt := s.now().Add(ttl)
	grant.ExpiresAt = expiresAt.Unix()
	raw, err := json.Marshal(grant)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode grant: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + s.signature(payload), expiresAt, nil
}

// Verify validates a token and returns the embedded grant. Expired grants are
// rejected unless allowExpired is set.
func (s *SignedURLSigner) Verify(token string, allowExpired bool) (Grant, error) {
	var grant Grant
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return grant, fmt.Errorf("invalid token format")
	}
	if !hmac.Equal([]byte(s.signature(parts[0])), []byte(parts[1])) {
		return grant, fmt.Errorf("invalid token signature")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return grant, fmt.Errorf("decode grant: %w", err)
	}
	if err := json.Unmarshal(raw, &grant); err != nil {
		return grant, fmt.Errorf("decode grant: %w", err)
	}
	if !allowExpired && s.now().After(grant.Expiry()) {
		return grant, fmt.Errorf("token expired")
	}
	return grant, nil
}

func (s *SignedURLSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
