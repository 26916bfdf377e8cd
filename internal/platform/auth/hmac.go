package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Internal callers sign requests with these headers. The signature covers
// method, path, timestamp, nonce, and a SHA-256 of the body.
const (
	SignatureHeader = "X-Nellai-Signature"
	TimestampHeader = "X-Nellai-Timestamp"
	NonceHeader     = "X-Nellai-Nonce"
)

const (
	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// SecretProvider resolves the shared secrets used for signature checks.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore remembers nonces long enough to reject replayed signatures.
type NonceStore interface {
	// UseNonce records the nonce when it has not been seen within the scope.
	// The boolean reports whether the nonce was stored (true) or already
	// existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. A single API instance
// is enough for the store's guarantees; multi-instance deployments should
// back this with Firestore instead.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, rejecting duplicates until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	now := time.Now()
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, exp := range s.seen {
		if exp.Before(now) {
			delete(s.seen, k)
		}
	}

	if existing, ok := s.seen[key]; ok && existing.After(now) {
		return false, nil
	}

	s.seen[key] = expiry
	return true, nil
}

// HMACValidator verifies signed requests on the /internal route group and
// attaches a ServiceIdentity for downstream middleware once a request passes.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger Logger
	now    func() time.Time

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL customises how long nonces are retained.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		provider:  provider,
		nonces:    nonces,
		logger:    log.Default(),
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}

	return validator
}

// signatureProblem carries the HTTP outcome of a failed verification.
type signatureProblem struct {
	status  int
	code    string
	message string
}

func deny(status int, code, message string) *signatureProblem {
	return &signatureProblem{status: status, code: code, message: message}
}

// RequireHMAC rejects requests without a valid signature over the named
// secret. On success the verified caller is stored on the request context.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, problem := v.verify(r, secretName)
			if problem != nil {
				writeSignatureProblem(w, problem)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(r.Context(), identity)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, secretName string) (*ServiceIdentity, *signatureProblem) {
	ctx := r.Context()

	if secretName == "" {
		return nil, deny(http.StatusServiceUnavailable, "verification_unavailable", "signing secret not configured")
	}

	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		v.logf("auth: secret lookup for %s failed: %v", secretName, err)
		return nil, deny(http.StatusServiceUnavailable, "verification_unavailable", "signing secret unavailable")
	}

	signatureValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if signatureValue == "" {
		return nil, deny(http.StatusUnauthorized, "signature_missing", "signature header missing")
	}

	timestampValue := strings.TrimSpace(r.Header.Get(TimestampHeader))
	if timestampValue == "" {
		return nil, deny(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
	}

	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, deny(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
	}

	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, deny(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
	}

	nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
	if nonce == "" {
		return nil, deny(http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, deny(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, deny(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
	}

	expected := signPayload(secret, canonicalPayload(r, body, timestampValue, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, deny(http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return nil, deny(http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
	}

	expiry := timestamp.Add(v.nonceTTL)
	if expiry.Before(v.now()) {
		expiry = v.now().Add(v.nonceTTL)
	}

	stored, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		v.logf("auth: nonce store error: %v", err)
		return nil, deny(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
	}
	if !stored {
		return nil, deny(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
	}

	return &ServiceIdentity{Subject: secretName, SignedAt: timestamp}, nil
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}

	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("auth: secret is empty")
	}

	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v == nil || v.logger == nil {
		return
	}
	v.logger.Printf(format, args...)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func canonicalPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	digest := sha256.Sum256(body)
	lines := []string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}
	return []byte(strings.Join(lines, "\n"))
}

func signPayload(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func writeSignatureProblem(w http.ResponseWriter, problem *signatureProblem) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(problem.status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   problem.code,
		"message": problem.message,
	})
}
