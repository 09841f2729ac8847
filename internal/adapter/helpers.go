package adapter

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// guestMarker is a mojibake-encoded marker one vendor's nickname field
// carries for a specific class of unregistered session. Preserved
// exactly per spec §9 — it has no public meaning, it's simply the byte
// sequence that vendor's guest accounts are tagged with.
const guestMarker = "шо┐хов"

// IsJWT reports whether token looks like a JWT: it begins with "eyJ" and
// splits into exactly three dot-separated segments (spec §4.5). The
// segments' characters are not checked against the base64url alphabet.
func IsJWT(token string) bool {
	if !strings.HasPrefix(token, "eyJ") {
		return false
	}
	parts := strings.Split(token, ".")
	return len(parts) == 3
}

// JWTPayload is the subset of JWT claims adapters draw identity from
// when a vendor's introspection API is unreachable (spec §4.5).
type JWTPayload struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Exp      int64  `json:"exp"`
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	AppID    string `json:"app_id"`
	Typ      string `json:"typ"`
	User     struct {
		ID string `json:"id"`
	} `json:"user"`
}

// DecodeJWTPayload base64url-decodes and JSON-parses a JWT's middle
// segment without verifying its signature — adapters use it only to read
// identity claims, never to authenticate.
func DecodeJWTPayload(token string) (*JWTPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("adapter: not a JWT (expected 3 segments)")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var payload JWTPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// EffectiveUserID picks the best identity claim off a decoded payload,
// preferring the nested user.id the composite-jwt vendor sets over the
// flatter sub/user_id/id claims.
func (p *JWTPayload) EffectiveUserID() string {
	switch {
	case p.User.ID != "":
		return p.User.ID
	case p.Sub != "":
		return p.Sub
	case p.UserID != "":
		return p.UserID
	default:
		return p.ID
	}
}

// SplitComposite splits the composite-jwt vendor's "realUserID+jwt"
// credential shape on the first "+" (spec §4.5 "tokens as composites").
// When no "+" is present, ok is false and the caller must derive
// realUserID from the JWT's own claims instead.
func SplitComposite(value string) (realUserID, jwt string, ok bool) {
	idx := strings.Index(value, "+")
	if idx < 0 {
		return "", value, false
	}
	return value[:idx], value[idx+1:], true
}

// ResolveCompositeUserID implements the full fallback chain spec §4.5
// describes: split on "+", or else derive realUserID from the JWT's
// user.id or sub claim.
func ResolveCompositeUserID(value string) (realUserID, jwt string) {
	if uid, token, ok := SplitComposite(value); ok {
		return uid, token
	}
	jwt = value
	if payload, err := DecodeJWTPayload(jwt); err == nil {
		realUserID = payload.EffectiveUserID()
	}
	return realUserID, jwt
}

// IsGuestAccount applies spec §4.5's guest-account rejection rule: an
// email ending in "@guest.com", an explicit IsGuest flag, or the mojibake
// nickname marker. noContactInfoVendor additionally gates the "no
// email/phone at all" branch: that check only applies to vendors whose
// account-info shape structurally has no email/phone concept (the
// ticket-based cookie vendor's profile, spec §4.5) — a vendor that does
// model email/phone but simply didn't populate them on this response
// (e.g. an OAuth scope without an email claim) must not be misclassified
// as a guest.
func IsGuestAccount(info *AccountInfo, noContactInfoVendor bool) bool {
	if info == nil {
		return false
	}
	if info.IsGuest {
		return true
	}
	if strings.HasSuffix(strings.ToLower(info.Email), "@guest.com") {
		return true
	}
	if noContactInfoVendor && info.Email == "" && info.Phone == "" {
		return true
	}
	if strings.Contains(info.Nickname, guestMarker) {
		return true
	}
	return false
}

// MD5Hex returns the hex-encoded MD5 digest of s, used by both vendor
// signing algorithms (spec §4.5).
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns n hex characters of cryptographically random data
// (n must be even).
func RandomHex(n int) string {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal for the process; a
		// zeroed nonce is safer than panicking mid-request.
		return strings.Repeat("0", n)
	}
	return hex.EncodeToString(buf)
}

// EncodeURIComponent mirrors JavaScript's encodeURIComponent byte-for-byte
// (spec §4.5's yy/x-signature algorithm calls it directly), which is not
// the same escaping net/url's QueryEscape/PathEscape perform (those
// encode space as "+" and escape a different reserved set).
func EncodeURIComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}

func isURIUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
