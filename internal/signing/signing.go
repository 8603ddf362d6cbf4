// Package signing produces and checks HMAC-signed, expiring URLs for
// artifacts served straight from local disk.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Query parameter names carried by a signed URL.
const (
	ParamExpires   = "expires"
	ParamSignature = "signature"
)

var (
	ErrExpired          = errors.New("signed url expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC-SHA256 signatures over a resource name
// and an expiry instant.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a resource and expiry.
func (s *Signer) Sign(resource string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", resource, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Query returns the expires/signature parameters for a URL granting access
// to resource for ttl.
func (s *Signer) Query(resource string, ttl time.Duration) url.Values {
	exp := s.now().Add(ttl).Unix()
	return url.Values{
		ParamExpires:   {strconv.FormatInt(exp, 10)},
		ParamSignature: {s.Sign(resource, exp)},
	}
}

// Validate compares the provided signature with the expected one. It does
// not look at the clock; Verify does.
func (s *Signer) Validate(resource, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(resource, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Verify checks both the signature and the expiry carried in q.
func (s *Signer) Verify(resource string, q url.Values) error {
	expires := q.Get(ParamExpires)
	if !s.Validate(resource, expires, q.Get(ParamSignature)) {
		return ErrInvalidSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if s.now().After(time.Unix(exp, 0)) {
		return ErrExpired
	}
	return nil
}
