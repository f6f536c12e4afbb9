// Package relayer is an HTTP client for an encryption relayer. It implements
// fhe.Encryptor and fhe.Decryptor against the /v1 protocol.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
)

// DefaultConstraint is the range of relayer versions this client speaks.
const DefaultConstraint = "^0.4"

// ErrIncompatible is returned by CheckVersion.
var ErrIncompatible = errors.New("relayer: incompatible version")

// APIError is returned when the relayer responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relayer %d: %s", e.Status, e.Message)
}

// Client talks to one relayer.
type Client struct {
	baseURL    string
	token      string
	constraint string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept as is.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithConstraint overrides DefaultConstraint.
func WithConstraint(constraint string) Option {
	return func(c *Client) { c.constraint = constraint }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		constraint: DefaultConstraint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewToken mints an HS256 bearer token for subject.
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr fhe.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Version calls GET /v1/version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out fhe.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CheckVersion fails unless the relayer's version satisfies the constraint.
func (c *Client) CheckVersion(ctx context.Context) error {
	raw, err := c.Version(ctx)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrIncompatible, raw, err)
	}
	constraint, err := semver.NewConstraint(c.constraint)
	if err != nil {
		return fmt.Errorf("relayer: bad constraint %q: %w", c.constraint, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatible, v, c.constraint)
	}
	return nil
}

// Encrypt calls POST /v1/input-proof.
func (c *Client) Encrypt(ctx context.Context, target, identity common.Address, value uint64) (fhe.EncryptedInput, error) {
	var out fhe.EncryptedInput
	req := fhe.InputProofRequest{ContractAddress: target, UserAddress: identity, Value: value}
	err := c.do(ctx, http.MethodPost, "/v1/input-proof", req, &out)
	return out, err
}

// Decrypt calls POST /v1/user-decrypt and opens the sealed results with the
// capability's holder key.
func (c *Client) Decrypt(ctx context.Context, refs []fhe.HandleRef, capability *contracts.Capability) (map[contracts.Handle]uint64, error) {
	if capability == nil {
		return nil, errors.New("relayer: nil capability")
	}
	var out fhe.UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, "/v1/user-decrypt", fhe.NewUserDecryptRequest(refs, capability), &out); err != nil {
		return nil, err
	}
	return fhe.OpenResults(refs, out.Results, capability)
}

var _ fhe.Provider = (*Client)(nil)
