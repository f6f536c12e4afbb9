package devnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
)

// RelayerVersion is the protocol version the relayer endpoints speak.
const RelayerVersion = "0.4.2"

const maxBodyBytes = 1 << 20

// Server exposes a Network over the relayer HTTP protocol.
type Server struct {
	network  *Network
	secret   []byte
	logger   *slog.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	handles  prometheus.Counter
	mux      *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithJWTSecret requires an HS256 bearer token on every /v1 route except
// the version probe.
func WithJWTSecret(secret []byte) ServerOption {
	return func(s *Server) { s.secret = secret }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the handler tree.
func NewServer(n *Network, opts ...ServerOption) *Server {
	s := &Server{
		network:  n,
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scorevault",
			Subsystem: "relayer",
			Name:      "requests_total",
			Help:      "Relayer requests by route and status code.",
		}, []string{"route", "code"}),
		handles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scorevault",
			Subsystem: "relayer",
			Name:      "decrypted_handles_total",
			Help:      "Handles released to capability holders.",
		}),
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(s.requests, s.handles)

	s.mux.HandleFunc("GET /v1/version", s.instrument("version", s.handleVersion))
	s.mux.HandleFunc("POST /v1/input-proof", s.instrument("input-proof", s.authorize(s.handleInputProof)))
	s.mux.HandleFunc("POST /v1/user-decrypt", s.instrument("user-decrypt", s.authorize(s.handleUserDecrypt)))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Registry returns the metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	if len(s.secret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "token subject is required")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fhe.VersionResponse{Version: RelayerVersion})
}

func (s *Server) handleInputProof(w http.ResponseWriter, r *http.Request) {
	var req fhe.InputProofRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := s.network.Encrypt(r.Context(), req.ContractAddress, req.UserAddress, req.Value)
	if err != nil {
		if errors.Is(err, ErrWrongContract) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "input proof failed", "error", err)
		writeError(w, http.StatusInternalServerError, "input proof failed")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req fhe.UserDecryptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Handles) == 0 {
		writeError(w, http.StatusBadRequest, "no handles requested")
		return
	}
	results, err := s.network.UserDecrypt(r.Context(), req.Handles, req.Capability())
	if err != nil {
		writeError(w, decryptStatus(err), err.Error())
		return
	}
	s.handles.Add(float64(len(results)))
	writeJSON(w, http.StatusOK, fhe.UserDecryptResponse{Results: results})
}

func decryptStatus(err error) int {
	switch {
	case errors.Is(err, capabilities.ErrBadSignature),
		errors.Is(err, capabilities.ErrExpired),
		errors.Is(err, capabilities.ErrNotYetValid),
		errors.Is(err, capabilities.ErrUnavailable):
		return http.StatusUnauthorized
	case errors.Is(err, capabilities.ErrAddressOutside),
		errors.Is(err, ErrACL),
		errors.Is(err, ErrWrongContract):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownHandle):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, fhe.ErrorResponse{Error: msg})
}
