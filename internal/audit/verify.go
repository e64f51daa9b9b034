package audit

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Verifier exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 1
	ExitIntegrity = 2
)

// Check names, in evaluation order.
const (
	CheckSignature   = "signature"
	CheckSchema      = "meta_schema"
	CheckFingerprint = "fingerprint"
	CheckEventsHash  = "events_sha256"
	CheckBytes       = "bytes"
	CheckLines       = "lines"
	CheckChain       = "chain"
)

// ErrUsage marks failures to read inputs, as opposed to integrity failures.
var ErrUsage = errors.New("usage")

//go:embed meta.schema.json
var metaSchemaJSON []byte

var (
	metaSchemaOnce sync.Once
	metaSchema     *gojsonschema.Schema
	metaSchemaErr  error
)

func compiledMetaSchema() (*gojsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		metaSchema, metaSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(metaSchemaJSON))
	})
	return metaSchema, metaSchemaErr
}

// Summary is the verifier result. Checks after the first failure stay false.
type Summary struct {
	OK               bool   `json:"ok"`
	TenantID         string `json:"tenant_id,omitempty"`
	FromSeq          int64  `json:"from_seq,omitempty"`
	ToSeq            int64  `json:"to_seq,omitempty"`
	SignatureValid   bool   `json:"signature_valid"`
	SchemaValid      bool   `json:"meta_schema_valid"`
	FingerprintMatch bool   `json:"fingerprint_match"`
	EventsHashMatch  bool   `json:"events_sha256_match"`
	BytesMatch       bool   `json:"bytes_match"`
	LinesMatch       bool   `json:"lines_match"`
	ChainValid       bool   `json:"chain_valid"`
	FailedCheck      string `json:"failed_check,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

func (s *Summary) fail(check, format string, args ...any) Summary {
	s.OK = false
	s.FailedCheck = check
	s.Detail = fmt.Sprintf(format, args...)
	return *s
}

// ExitCode maps a verification outcome to the process exit status.
func ExitCode(s Summary, err error) int {
	switch {
	case err != nil:
		return ExitUsage
	case !s.OK:
		return ExitIntegrity
	default:
		return ExitOK
	}
}

// ReadBundle loads the three artifacts from dir.
func ReadBundle(dir string) (Bundle, error) {
	var b Bundle
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{{EventsFile, &b.Events}, {MetaFile, &b.Meta}, {SigFile, &b.Sig}} {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: %v", ErrUsage, err)
		}
		*f.dst = data
	}
	return b, nil
}

// VerifyDir reads a bundle directory and a trusted public key file.
func VerifyDir(dir, publicKeyFile string) (Summary, error) {
	pemBytes, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	b, err := ReadBundle(dir)
	if err != nil {
		return Summary{}, err
	}
	return Verify(b, pemBytes)
}

// eventLine is one decoded events.ndjson record.
type eventLine struct {
	TenantID      string `json:"tenant_id"`
	Seq           int64  `json:"seq"`
	TS            string `json:"ts"`
	Action        string `json:"action"`
	Result        string `json:"result"`
	DeviceID      string `json:"device_id"`
	CardID        string `json:"card_id"`
	JTI           string `json:"jti"`
	CorrelationID string `json:"correlation_id"`
	PrevHash      string `json:"prev_hash"`
	Hash          string `json:"hash"`
}

// Verify checks a bundle against a trusted public key PEM. The checks run in
// order and stop at the first failure: signature, manifest schema, key
// fingerprint, events digest, byte count, line count, chain continuity.
// A returned error means the inputs were unusable, not untrustworthy.
func Verify(b Bundle, publicKeyPEM []byte) (Summary, error) {
	pub, err := crypto.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: public key: %v", ErrUsage, err)
	}
	s := Summary{}

	if err := crypto.VerifyEd25519(pub, b.Meta, strings.TrimSpace(string(b.Sig))); err != nil {
		return s.fail(CheckSignature, "%v", err), nil
	}
	s.SignatureValid = true

	schema, err := compiledMetaSchema()
	if err != nil {
		return Summary{}, fmt.Errorf("meta schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(b.Meta))
	if err != nil {
		return s.fail(CheckSchema, "%v", err), nil
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.Field()+": "+e.Description())
		}
		return s.fail(CheckSchema, "%s", strings.Join(msgs, "; ")), nil
	}
	var meta Meta
	if err := json.Unmarshal(b.Meta, &meta); err != nil {
		return s.fail(CheckSchema, "%v", err), nil
	}
	s.SchemaValid = true
	s.TenantID, s.FromSeq, s.ToSeq = meta.TenantID, meta.FromSeq, meta.ToSeq

	if fp := crypto.FingerprintSHA256(publicKeyPEM); fp != meta.Signature.PublicKeyFingerprint {
		return s.fail(CheckFingerprint, "trusted key %s, manifest %s", fp, meta.Signature.PublicKeyFingerprint), nil
	}
	s.FingerprintMatch = true

	if got := crypto.SHA256Hex(b.Events); got != meta.Artifacts.Events.SHA256 {
		return s.fail(CheckEventsHash, "events sha256 %s, manifest %s", got, meta.Artifacts.Events.SHA256), nil
	}
	s.EventsHashMatch = true

	if got := int64(len(b.Events)); got != meta.Artifacts.Events.Bytes {
		return s.fail(CheckBytes, "events bytes %d, manifest %d", got, meta.Artifacts.Events.Bytes), nil
	}
	s.BytesMatch = true

	lines := bytes.Split(b.Events, []byte("\n"))
	if len(lines) != meta.Artifacts.Events.Lines || len(lines) != meta.Count {
		return s.fail(CheckLines, "events lines %d, manifest %d (count %d)", len(lines), meta.Artifacts.Events.Lines, meta.Count), nil
	}
	s.LinesMatch = true

	if err := checkChain(lines, meta); err != nil {
		return s.fail(CheckChain, "%v", err), nil
	}
	s.ChainValid = true
	s.OK = true
	return s, nil
}

func checkChain(lines [][]byte, meta Meta) error {
	var prev *eventLine
	for i, raw := range lines {
		var l eventLine
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&l); err != nil {
			return fmt.Errorf("line %d: %v", i+1, err)
		}
		if l.TenantID != meta.TenantID {
			return fmt.Errorf("line %d: tenant %q", i+1, l.TenantID)
		}
		if i == 0 {
			if l.Seq != meta.FromSeq {
				return fmt.Errorf("first seq %d, manifest %d", l.Seq, meta.FromSeq)
			}
			if l.PrevHash != meta.Chain.StartPrevHash {
				return fmt.Errorf("first prev_hash does not match chain start")
			}
		} else {
			if l.Seq != prev.Seq+1 {
				return fmt.Errorf("line %d: seq %d after %d", i+1, l.Seq, prev.Seq)
			}
			if l.PrevHash != prev.Hash {
				return fmt.Errorf("line %d: prev_hash does not link to seq %d", i+1, prev.Seq)
			}
		}
		want, err := recomputeHash(l)
		if err != nil {
			return fmt.Errorf("line %d: %v", i+1, err)
		}
		if want != l.Hash {
			return fmt.Errorf("line %d: hash mismatch", i+1)
		}
		prev = &l
	}
	if prev.Seq != meta.ToSeq {
		return fmt.Errorf("last seq %d, manifest %d", prev.Seq, meta.ToSeq)
	}
	if prev.Hash != meta.Chain.EndHash {
		return fmt.Errorf("last hash does not match chain end")
	}
	return nil
}

func recomputeHash(l eventLine) (string, error) {
	ts, err := parseTS(l.TS)
	if err != nil {
		return "", err
	}
	return HashEvent(model.WormEvent{
		TenantID: l.TenantID, Seq: l.Seq, TS: ts, Action: l.Action, Result: l.Result,
		DeviceID: l.DeviceID, CardID: l.CardID, JTI: l.JTI, CorrelationID: l.CorrelationID,
		PrevHash: l.PrevHash,
	})
}
