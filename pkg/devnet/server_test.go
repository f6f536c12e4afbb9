package devnet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
)

func TestServer_Version(t *testing.T) {
	srv := NewServer(openNetwork(t), WithJWTSecret([]byte("s")))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out fhe.VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, RelayerVersion, out.Version)
}

func TestServer_InputProof(t *testing.T) {
	n := openNetwork(t)
	srv := NewServer(n)

	body := `{"contract_address":"` + n.Address().Hex() + `","user_address":"0x0000000000000000000000000000000000000001","value":42}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/input-proof", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var in fhe.EncryptedInput
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&in))
	assert.False(t, in.Handle.IsZero())
	assert.Len(t, in.Proof, 65)
}

func TestServer_BadRequests(t *testing.T) {
	srv := NewServer(openNetwork(t))

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"malformed json", "/v1/input-proof", `{`, http.StatusBadRequest},
		{"unknown field", "/v1/input-proof", `{"nope":1}`, http.StatusBadRequest},
		{"wrong contract", "/v1/input-proof", `{"contract_address":"0x0000000000000000000000000000000000000bad","user_address":"0x0000000000000000000000000000000000000001","value":1}`, http.StatusBadRequest},
		{"no handles", "/v1/user-decrypt", `{"handles":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)

			var out fhe.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestServer_JWT(t *testing.T) {
	secret := []byte("devnet-secret")
	srv := NewServer(openNetwork(t), WithJWTSecret(secret))

	sign := func(claims jwt.RegisteredClaims, key []byte) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		require.NoError(t, err)
		return tok
	}
	valid := jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign(valid, []byte("other")), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}, secret), http.StatusUnauthorized},
		{"no subject", "Bearer " + sign(jwt.RegisteredClaims{ExpiresAt: valid.ExpiresAt}, secret), http.StatusUnauthorized},
		{"valid", "Bearer " + sign(valid, secret), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/user-decrypt", strings.NewReader(`{"handles":[]}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(openNetwork(t))

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/version", nil))
	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/input-proof", strings.NewReader(`{`)))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `scorevault_relayer_requests_total{code="200",route="version"} 1`)
	assert.Contains(t, string(body), `scorevault_relayer_requests_total{code="400",route="input-proof"} 1`)
}
