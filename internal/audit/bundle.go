package audit

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"path"
	"time"

	"github.com/Globator25/Lokaltreu-sub000/internal/crypto"
	"github.com/Globator25/Lokaltreu-sub000/internal/model"
)

// Bundle artifact names.
const (
	EventsFile = "events.ndjson"
	MetaFile   = "meta.json"
	SigFile    = "meta.sig"

	SchemaVersion = "1"
)

// Meta is the signed manifest of one exported batch.
type Meta struct {
	SchemaVersion string        `json:"schema_version"`
	TenantID      string        `json:"tenant_id"`
	FromSeq       int64         `json:"from_seq"`
	ToSeq         int64         `json:"to_seq"`
	Count         int           `json:"count"`
	CreatedAt     string        `json:"created_at"`
	HashAlg       string        `json:"hash_alg"`
	Artifacts     Artifacts     `json:"artifacts"`
	Chain         ChainMeta     `json:"chain"`
	Signature     SignatureMeta `json:"signature"`
}

// Artifacts describes the files a manifest covers.
type Artifacts struct {
	Events ArtifactMeta `json:"events"`
}

// ArtifactMeta pins one artifact by digest and size.
type ArtifactMeta struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
	Lines  int    `json:"lines"`
}

// ChainMeta records where the batch sits in the tenant chain.
type ChainMeta struct {
	StartPrevHash string `json:"start_prev_hash"`
	EndHash       string `json:"end_hash"`
}

// SignatureMeta identifies the export signing key.
type SignatureMeta struct {
	Alg                  string `json:"alg"`
	KeyID                string `json:"key_id"`
	PublicKeyFingerprint string `json:"public_key_fingerprint_sha256"`
}

// SigningKey signs export manifests.
type SigningKey struct {
	ID        string
	Private   ed25519.PrivateKey
	PublicPEM []byte
}

// Bundle is the three artifacts of one batch.
type Bundle struct {
	Events []byte
	Meta   []byte
	Sig    []byte
}

// Prefix returns the object prefix of a batch, with a trailing slash.
func Prefix(root, tenantID string, day time.Time, from, to int64) string {
	return path.Join(root,
		"tenant="+tenantID,
		"date="+day.UTC().Format("2006-01-02"),
		fmt.Sprintf("from_%d_to_%d", from, to)) + "/"
}

// BuildBundle serializes events and signs the manifest. events must be a
// contiguous, non-empty slice of one tenant's chain.
func BuildBundle(events []model.WormEvent, key SigningKey, createdAt time.Time) (Bundle, Meta, error) {
	if len(events) == 0 {
		return Bundle{}, Meta{}, fmt.Errorf("empty batch")
	}
	lines := make([][]byte, 0, len(events))
	for i, e := range events {
		if i > 0 && e.Seq != events[i-1].Seq+1 {
			return Bundle{}, Meta{}, fmt.Errorf("sequence gap between %d and %d", events[i-1].Seq, e.Seq)
		}
		l, err := EventLine(e)
		if err != nil {
			return Bundle{}, Meta{}, err
		}
		lines = append(lines, l)
	}
	body := bytes.Join(lines, []byte("\n"))

	first, last := events[0], events[len(events)-1]
	meta := Meta{
		SchemaVersion: SchemaVersion,
		TenantID:      first.TenantID,
		FromSeq:       first.Seq,
		ToSeq:         last.Seq,
		Count:         len(events),
		CreatedAt:     FormatTS(createdAt),
		HashAlg:       "sha256",
		Artifacts: Artifacts{Events: ArtifactMeta{
			Path:   EventsFile,
			SHA256: crypto.SHA256Hex(body),
			Bytes:  int64(len(body)),
			Lines:  len(lines),
		}},
		Chain: ChainMeta{StartPrevHash: first.PrevHash, EndHash: last.Hash},
		Signature: SignatureMeta{
			Alg:                  "ed25519",
			KeyID:                key.ID,
			PublicKeyFingerprint: crypto.FingerprintSHA256(key.PublicPEM),
		},
	}
	metaBytes, err := crypto.CanonicalJSON(meta)
	if err != nil {
		return Bundle{}, Meta{}, err
	}
	sig := crypto.SignEd25519(key.Private, metaBytes)
	return Bundle{Events: body, Meta: metaBytes, Sig: []byte(sig)}, meta, nil
}
