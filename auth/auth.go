// Package auth implements macaroon-style capability tokens. A token carries
// a location, an identifier and a chain of first-party caveats; its
// signature is an HMAC-SHA256 chain keyed by a server-held secret, so anyone
// holding a token can attenuate it by appending caveats, but only the server
// can mint or verify one.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Method names one operation class a token may allow.
type Method string

const (
	MethodPut      Method = "put"
	MethodGet      Method = "get"
	MethodSearch   Method = "search"
	MethodSnapshot Method = "snapshot"
	MethodBranch   Method = "branch"
	MethodTag      Method = "tag"
	MethodAdmin    Method = "admin"
)

// Valid reports whether m names a known method class.
func (m Method) Valid() bool {
	switch m {
	case MethodPut, MethodGet, MethodSearch, MethodSnapshot, MethodBranch, MethodTag, MethodAdmin:
		return true
	}
	return false
}

var (
	// ErrInvalidToken is returned for tokens that fail to decode or whose
	// signature chain does not verify.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired is returned for tokens past their expires caveat.
	ErrExpired = errors.New("token expired")

	// ErrMethodNotAllowed is returned when no method caveat admits the
	// requested operation.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrNamespaceMismatch is returned when a namespace caveat names a
	// different namespace than the request.
	ErrNamespaceMismatch = errors.New("namespace not allowed")
)

// Token is a bearer capability.
type Token struct {
	Location   string   `json:"location"`
	Identifier string   `json:"identifier"`
	Caveats    []string `json:"caveats"`
	Signature  []byte   `json:"signature"`
}

// Encode renders the token for the authorization metadata entry.
func (t *Token) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a token produced by Encode.
func Decode(s string) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &t, nil
}

// AddCaveat appends a caveat and extends the signature chain. Attenuation
// needs no secret: the new signature is the HMAC of the caveat under the old
// signature.
func (t *Token) AddCaveat(caveat string) *Token {
	t.Caveats = append(t.Caveats, caveat)
	t.Signature = chainStep(t.Signature, caveat)
	return t
}

func chainStep(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// Request describes the operation a token must admit.
type Request struct {
	Namespace string
	Method    Method
}

// Authorizer mints and verifies tokens with a server-held secret.
type Authorizer struct {
	location string
	secret   []byte
	now      func() time.Time
}

// Option is a functional option for NewAuthorizer.
type Option func(*Authorizer)

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

// NewAuthorizer creates an authorizer. The secret must be private to the
// server; every minted token chains from it.
func NewAuthorizer(location string, secret []byte, optFns ...Option) (*Authorizer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	a := &Authorizer{
		location: location,
		secret:   secret,
		now:      time.Now,
	}
	for _, fn := range optFns {
		fn(a)
	}
	return a, nil
}

// Mint creates a token for identifier with the given caveats.
func (a *Authorizer) Mint(identifier string, caveats ...string) *Token {
	t := &Token{
		Location:   a.location,
		Identifier: identifier,
		Signature:  chainStep(a.secret, identifier),
	}
	for _, c := range caveats {
		t.AddCaveat(c)
	}
	return t
}

// MintCapability builds the common token shape: optional namespace pin, a
// set of allowed methods and a TTL.
func (a *Authorizer) MintCapability(identifier, namespace string, methods []Method, ttl time.Duration) *Token {
	var caveats []string
	if namespace != "" {
		caveats = append(caveats, "namespace = "+namespace)
	}
	for _, m := range methods {
		caveats = append(caveats, "method = "+string(m))
	}
	if ttl > 0 {
		caveats = append(caveats, fmt.Sprintf("expires = %d", a.now().Add(ttl).Unix()))
	}
	return a.Mint(identifier, caveats...)
}

// Verify recomputes the signature chain and evaluates every caveat against
// the request. Unknown caveats fail closed.
func (a *Authorizer) Verify(t *Token, req Request) error {
	if t == nil {
		return ErrInvalidToken
	}

	sig := chainStep(a.secret, t.Identifier)
	for _, c := range t.Caveats {
		sig = chainStep(sig, c)
	}
	if subtle.ConstantTimeCompare(sig, t.Signature) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	allowedMethods := make(map[Method]struct{})
	for _, c := range t.Caveats {
		key, value, ok := splitCaveat(c)
		if !ok {
			return fmt.Errorf("%w: malformed caveat %q", ErrInvalidToken, c)
		}
		switch key {
		case "namespace":
			if req.Namespace != value {
				return fmt.Errorf("%w: token is scoped to %q", ErrNamespaceMismatch, value)
			}
		case "method":
			allowedMethods[Method(value)] = struct{}{}
		case "expires":
			exp, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed expires caveat %q", ErrInvalidToken, c)
			}
			if a.now().Unix() > exp {
				return ErrExpired
			}
		case "delegated":
			// Informational marker added on attenuation.
		default:
			return fmt.Errorf("%w: unknown caveat %q", ErrInvalidToken, c)
		}
	}

	// Admin tokens pass every method gate.
	if _, ok := allowedMethods[MethodAdmin]; ok {
		return nil
	}
	if _, ok := allowedMethods[req.Method]; !ok {
		return fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}
	return nil
}

// IsAdmin reports whether the token verifies and carries the admin method.
func (a *Authorizer) IsAdmin(t *Token, namespace string) bool {
	return a.Verify(t, Request{Namespace: namespace, Method: MethodAdmin}) == nil
}

func splitCaveat(c string) (key, value string, ok bool) {
	k, v, found := strings.Cut(c, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), true
}
