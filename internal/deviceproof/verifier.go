// Package deviceproof authenticates field devices by a detached Ed25519
// signature over method, path, timestamp and a single-use nonce.
package deviceproof

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Request headers carrying a proof.
const (
	HeaderDeviceKey = "X-Device-Key"
	HeaderTimestamp = "X-Device-Timestamp"
	HeaderProof     = "X-Device-Proof"
	HeaderNonce     = "X-Device-Nonce"
	HeaderTenant    = "X-Tenant-Id"

	DefaultSkew      = 30 * time.Second
	DefaultReplayTTL = 90 * time.Second

	maxNonceLen = 128
)

// DeviceLookup resolves registered devices.
type DeviceLookup interface {
	Get(ctx context.Context, deviceID string) (*model.Device, error)
}

// NonceStore records (tenant, device, nonce) triples. Consume must be a single
// atomic insert-if-absent and report false when the triple was already present.
type NonceStore interface {
	Consume(ctx context.Context, tenantID, deviceID, nonce string, ttl time.Duration) (bool, error)
}

// Proof is the parsed proof material of one request.
type Proof struct {
	DeviceID  string
	TenantID  string // claimed by the caller, optional
	Timestamp string // unix seconds, as sent
	Signature string
	Nonce     string
	Method    string
	Path      string
}

// Message is the canonical signed string: METHOD|path|timestamp|nonce.
func Message(method, p, ts, nonce string) string {
	return strings.ToUpper(method) + "|" + p + "|" + ts + "|" + nonce
}

// NormalizePath returns the request path as the device saw it. Behind a
// trusted proxy the X-Forwarded-Prefix header is prepended.
func NormalizePath(r *http.Request, trustProxy bool) string {
	p := r.URL.Path
	if p == "" {
		p = "/"
	}
	if trustProxy {
		if prefix := strings.TrimSpace(r.Header.Get("X-Forwarded-Prefix")); prefix != "" {
			p = path.Join("/", prefix, p)
		}
	}
	return p
}

// FromRequest extracts a Proof from the request headers.
func FromRequest(r *http.Request, trustProxy bool) (Proof, error) {
	p := Proof{
		DeviceID:  strings.TrimSpace(r.Header.Get(HeaderDeviceKey)),
		TenantID:  strings.TrimSpace(r.Header.Get(HeaderTenant)),
		Timestamp: strings.TrimSpace(r.Header.Get(HeaderTimestamp)),
		Signature: strings.TrimSpace(r.Header.Get(HeaderProof)),
		Nonce:     strings.TrimSpace(r.Header.Get(HeaderNonce)),
		Method:    r.Method,
		Path:      NormalizePath(r, trustProxy),
	}
	if p.DeviceID == "" || p.Timestamp == "" || p.Signature == "" || p.Nonce == "" {
		return Proof{}, fmt.Errorf("missing proof headers: %w", errs.ErrProofInvalid)
	}
	if len(p.Nonce) > maxNonceLen {
		return Proof{}, fmt.Errorf("nonce too long: %w", errs.ErrProofInvalid)
	}
	return p, nil
}

// Verifier checks proofs in a fixed order: device, tenant, clock skew,
// signature, nonce.
type Verifier struct {
	devices   DeviceLookup
	nonces    NonceStore
	skew      time.Duration
	replayTTL time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithSkew sets the symmetric timestamp window.
func WithSkew(d time.Duration) Option { return func(v *Verifier) { v.skew = d } }

// WithReplayTTL sets how long consumed nonces are remembered.
func WithReplayTTL(d time.Duration) Option { return func(v *Verifier) { v.replayTTL = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

// NewVerifier constructs a Verifier.
func NewVerifier(devices DeviceLookup, nonces NonceStore, log *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		devices:   devices,
		nonces:    nonces,
		skew:      DefaultSkew,
		replayTTL: DefaultReplayTTL,
		now:       time.Now,
		log:       log,
	}
	for _, o := range opts {
		o(v)
	}
	// nonces must outlive the window in both directions
	if v.replayTTL < 2*v.skew {
		v.replayTTL = 2 * v.skew
	}
	return v
}

// Verify authenticates p and returns the device on success.
func (v *Verifier) Verify(ctx context.Context, p Proof) (*model.Device, error) {
	dev, err := v.devices.Get(ctx, p.DeviceID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("device %q: %w", p.DeviceID, errs.ErrDeviceDisabled)
		}
		return nil, err
	}
	if !dev.Enabled {
		return nil, fmt.Errorf("device %q: %w", p.DeviceID, errs.ErrDeviceDisabled)
	}
	if p.TenantID != "" && p.TenantID != dev.TenantID {
		return nil, fmt.Errorf("device %q: %w", p.DeviceID, errs.ErrDeviceTenant)
	}

	ts, err := strconv.ParseInt(p.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", errs.ErrProofInvalid)
	}
	drift := v.now().Sub(time.Unix(ts, 0))
	if drift > v.skew || drift < -v.skew {
		return nil, fmt.Errorf("drift %s: %w", drift, errs.ErrProofSkew)
	}

	msg := Message(p.Method, p.Path, p.Timestamp, p.Nonce)
	if err := crypto.VerifyEd25519(ed25519.PublicKey(dev.PublicKey), []byte(msg), p.Signature); err != nil {
		return nil, fmt.Errorf("signature: %v: %w", err, errs.ErrProofInvalid)
	}

	fresh, err := v.nonces.Consume(ctx, dev.TenantID, dev.ID, p.Nonce, v.replayTTL)
	if err != nil {
		return nil, fmt.Errorf("nonce store: %w", err)
	}
	if !fresh {
		v.log.Warn("device proof replay",
			zap.String("tenant_id", dev.TenantID),
			zap.String("device_id", dev.ID),
		)
		return nil, fmt.Errorf("nonce reused: %w", errs.ErrProofReplay)
	}
	return dev, nil
}
