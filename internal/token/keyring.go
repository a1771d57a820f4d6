package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
)

// KeyResolver resolves a token header kid to the ES256 verification key.
// Implementations must honour ctx cancellation and never mutate shared
// state on failure.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error)
}

// StaticKeyring is a KeyResolver over an immutable TrustedCAs map of
// key id → PEM-encoded public key bytes. Keys are parsed once at
// construction; lookups never block.
type StaticKeyring struct {
	keys map[string]*ecdsa.PublicKey
}

// NewStaticKeyring parses every PEM entry of trustedCAs. Fails when any
// entry is not an ECDSA public key.
func NewStaticKeyring(trustedCAs map[string][]byte) (*StaticKeyring, error) {
	keys := make(map[string]*ecdsa.PublicKey, len(trustedCAs))
	for id, pemBytes := range trustedCAs {
		pub, err := ParsePublicKeyPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("trusted CA %q: %w", id, err)
		}
		keys[id] = pub
	}
	return &StaticKeyring{keys: keys}, nil
}

// Add registers an already-parsed key. Intended for wiring, not for
// concurrent use after the verifier starts.
func (k *StaticKeyring) Add(kid string, pub *ecdsa.PublicKey) {
	if k.keys == nil {
		k.keys = make(map[string]*ecdsa.PublicKey)
	}
	k.keys[kid] = pub
}

// ResolveKey implements KeyResolver.
func (k *StaticKeyring) ResolveKey(_ context.Context, kid string) (*ecdsa.PublicKey, error) {
	pub, ok := k.keys[kid]
	if !ok {
		return nil, aigerr.New(aigerr.UntrustedIssuer, "no trusted key for kid %q", kid)
	}
	return pub, nil
}

// ParsePublicKeyPEM decodes a PEM "PUBLIC KEY" block into an ECDSA key.
func ParsePublicKeyPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is %T, want *ecdsa.PublicKey", key)
	}
	return pub, nil
}

// jwk is the EC subset of RFC 7517 this resolver understands.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// defaultJWKSTimeout bounds a JWKS fetch when the caller does not.
const defaultJWKSTimeout = 5 * time.Second

// JWKSResolver fetches ES256 keys from a JWKS endpoint when a kid is not
// resident, then caches them. The fetch honours ctx cancellation and the
// configured timeout; a cancelled fetch returns a Cancelled error without
// touching the cache.
type JWKSResolver struct {
	url     string
	client  *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*ecdsa.PublicKey
}

// NewJWKSResolver creates a JWKSResolver for url. timeout defaults to 5 s.
func NewJWKSResolver(url string, timeout time.Duration) *JWKSResolver {
	if timeout == 0 {
		timeout = defaultJWKSTimeout
	}
	return &JWKSResolver{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		cache:   make(map[string]*ecdsa.PublicKey),
	}
}

// ResolveKey implements KeyResolver.
func (r *JWKSResolver) ResolveKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	r.mu.RLock()
	pub, ok := r.cache[kid]
	r.mu.RUnlock()
	if ok {
		return pub, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(fetchCtx.Err(), context.Canceled) {
			return nil, aigerr.Wrap(aigerr.Cancelled, err, "JWKS fetch cancelled")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, aigerr.Wrap(aigerr.Timeout, err, "JWKS fetch timed out after %s", r.timeout)
		}
		return nil, fmt.Errorf("fetch JWKS from %s: %w", r.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch JWKS: unexpected status %d from %s", resp.StatusCode, r.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read JWKS body: %w", err)
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}

	r.mu.Lock()
	for _, k := range set.Keys {
		if k.Kty != "EC" || k.Crv != "P-256" {
			continue
		}
		pub, err := jwkToECDSA(k)
		if err != nil {
			continue
		}
		r.cache[k.Kid] = pub
	}
	pub, ok = r.cache[kid]
	r.mu.Unlock()

	if !ok {
		return nil, aigerr.New(aigerr.UntrustedIssuer, "kid %q not present in JWKS at %s", kid, r.url)
	}
	return pub, nil
}

// jwkToECDSA decodes the x/y coordinates of a P-256 JWK.
func jwkToECDSA(k jwk) (*ecdsa.PublicKey, error) {
	xb, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decode jwk x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decode jwk y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}, nil
}
