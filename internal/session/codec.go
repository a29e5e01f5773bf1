package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// CookieName is the stable session cookie name across the app.
const CookieName = "autopatch_session"

// DefaultMaxAge bounds session lifetime: 10 hours.
const DefaultMaxAge = 10 * time.Hour

// User is the identity carried inside a session token.
type User struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Groups      []string `json:"groups"`
}

type payload struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Groups      []string `json:"groups"`
	ExpiresAt   int64    `json:"expires_at"` // unix milliseconds
}

// Codec encrypts and decrypts opaque session tokens. Tokens are
// AES-256-GCM sealed under a key derived from the configured secret;
// the wire form is base64url(iv).base64url(ciphertext).base64url(tag),
// self-contained with no server-side state.
//
// Every decode failure collapses to "no session": a tampered, expired,
// truncated or foreign token is indistinguishable from an absent one.
type Codec struct {
	key    [32]byte
	maxAge time.Duration
	now    func() time.Time
}

// NewCodec derives the cipher key by hashing the secret, so the secret's
// length and format need not match the cipher key size.
func NewCodec(secret string, maxAge time.Duration) *Codec {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Codec{key: sha256.Sum256([]byte(secret)), maxAge: maxAge, now: time.Now}
}

// MaxAge returns the configured session lifetime.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// CreateToken seals the identity with a fresh expiry.
func (c *Codec) CreateToken(u User) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	plain, err := json.Marshal(payload{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Groups:      groups,
		ExpiresAt:   c.now().Add(c.maxAge).UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, plain, nil)
	// gcm.Seal appends the tag; split it back out so each segment is
	// independently recoverable from the token string.
	ct := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]
	enc := base64.RawURLEncoding
	return enc.EncodeToString(iv) + "." + enc.EncodeToString(ct) + "." + enc.EncodeToString(tag), nil
}

// ReadToken returns the identity carried by token, or nil when the token
// is absent, malformed, tampered with, or expired. It never returns an
// error: all failure modes degrade to "not authenticated".
func (c *Codec) ReadToken(token string) *User {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	enc := base64.RawURLEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil
	}
	ct, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil
	}
	gcm, err := c.aead()
	if err != nil {
		return nil
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil
	}
	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil
	}
	if p.Username == "" || p.DisplayName == "" || p.Groups == nil {
		return nil
	}
	if p.ExpiresAt <= 0 || time.UnixMilli(p.ExpiresAt).Before(c.now()) {
		return nil
	}
	return &User{Username: p.Username, DisplayName: p.DisplayName, Groups: p.Groups}
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
