package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"rolegate/internal/domain"
	"rolegate/internal/platform/telemetry"
)

// Client resolves token signing keys by key ID. Keys are cached and the
// endpoint is re-read at most once per minRefresh after a success, and at
// most once per failure backoff while it is failing, so an unknown kid
// cannot be used to hammer the identity service. Cached keys stay readable
// while a refresh is in flight.
type Client struct {
	endpoint       string
	minRefresh     time.Duration
	failureBackoff time.Duration
	httpClient     *http.Client
	metrics        *telemetry.GatewayMetrics

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	// refreshMu serializes fetches and guards the fields below.
	refreshMu   sync.Mutex
	lastFetch   time.Time
	lastFailure time.Time
	lastErr     error
}

// maxFailureBackoff caps the wait between attempts against a failing endpoint.
const maxFailureBackoff = 5 * time.Second

// NewClient creates a JWKS client. The metrics parameter is optional.
func NewClient(endpoint string, minRefresh time.Duration, m *telemetry.GatewayMetrics) *Client {
	return &Client{
		endpoint:       endpoint,
		minRefresh:     minRefresh,
		failureBackoff: min(minRefresh, maxFailureBackoff),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		metrics:        m,
		keys:           make(map[string]*rsa.PublicKey),
	}
}

// GetKey returns the RS256 verification key for kid, re-reading the key set
// when kid is not cached (key rotation).
func (c *Client) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetching key %q: %w", kid, err)
	}

	key, ok := c.cached(kid)
	if !ok {
		return nil, fmt.Errorf("key ID %q not found in JWKS: %w", kid, domain.ErrInvalidToken)
	}
	return key, nil
}

// Warm fetches the key set ahead of the first request. Failures are not
// fatal: GetKey retries on demand.
func (c *Client) Warm(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Client) cached(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok
}

func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// a concurrent caller may have refreshed while we waited for the lock
	if !c.lastFetch.IsZero() && time.Since(c.lastFetch) < c.minRefresh {
		return nil
	}
	if !c.lastFailure.IsZero() && time.Since(c.lastFailure) < c.failureBackoff {
		return fmt.Errorf("JWKS endpoint unavailable, retrying after backoff: %w", c.lastErr)
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		c.metrics.RecordJWKSRefresh(ctx, "failure")
		// the caller giving up says nothing about the endpoint
		if ctx.Err() == nil {
			c.lastFailure = time.Now()
			c.lastErr = err
		}
		return err
	}
	c.metrics.RecordJWKSRefresh(ctx, "success")

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	c.lastFetch = time.Now()
	c.lastFailure = time.Time{}
	c.lastErr = nil
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}
	return decodeKeySet(io.LimitReader(resp.Body, maxKeySetBytes))
}

const maxKeySetBytes = 1 << 20

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// decodeKeySet keeps the RSA signing keys usable for RS256. Other keys are
// skipped rather than failing the whole set.
func decodeKeySet(r io.Reader) (map[string]*rsa.PublicKey, error) {
	var set keySet
	if err := json.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Alg != "RS256" || (k.Use != "" && k.Use != "sig") {
			slog.Debug("skipping JWKS key", "kid", k.Kid, "kty", k.Kty, "alg", k.Alg, "use", k.Use)
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			slog.Warn("failed to parse JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

var errBadExponent = errors.New("exponent out of range")

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	if len(n) == 0 {
		return nil, errors.New("empty modulus")
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errBadExponent
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
