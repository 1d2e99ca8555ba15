package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired ticket")
	ErrMissingSecret = errors.New("ticket secret is not configured")
	ErrMissingUser   = errors.New("ticket subject is empty")
)

const (
	ticketPurpose = "realtime-ticket"
	ticketSigLen  = 20
)

// TokenSigner issues short-lived HMAC tickets that bind a realtime socket to
// the user id that requested them.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer that issues compact HMAC tickets.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports how long issued tickets stay valid.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue mints a ticket for userID.
func (s *TokenSigner) Issue(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	if userID == "" {
		return "", ErrMissingUser
	}

	payload := make([]byte, 16) // 8 bytes expiry + 8 random bytes
	expires := s.now().Add(s.ttl).Unix()
	binary.BigEndian.PutUint64(payload[:8], uint64(expires))
	if _, err := rand.Read(payload[8:]); err != nil {
		return "", err
	}

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(s.sign(userID, payload)[:ticketSigLen])
	return fmt.Sprintf("%s.%s", payloadEnc, sigEnc), nil
}

// Validate checks that ticket was issued for userID and has not expired.
func (s *TokenSigner) Validate(userID, ticket string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}
	if userID == "" {
		return ErrInvalidToken
	}

	payloadEnc, sigEnc, ok := strings.Cut(ticket, ".")
	if !ok {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 16 {
		return ErrInvalidToken
	}

	sigProvided, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sigProvided) != ticketSigLen {
		return ErrInvalidToken
	}

	if !hmac.Equal(sigProvided, s.sign(userID, payload)[:ticketSigLen]) {
		return ErrInvalidToken
	}

	expires := int64(binary.BigEndian.Uint64(payload[:8]))
	if s.now().Unix() > expires {
		return ErrInvalidToken
	}

	return nil
}

func (s *TokenSigner) sign(userID string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ticketPurpose))
	mac.Write([]byte("|"))
	mac.Write([]byte(userID))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
