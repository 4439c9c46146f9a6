package verify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
)

// Package entry names.
const (
	ManifestFile  = "manifest.json"
	SignatureFile = "manifest.sig.json"
	SnapshotFile  = "snapshot.json"
)

// SignatureAlgorithm is the only accepted envelope algorithm.
const SignatureAlgorithm = "HMAC-SHA256"

// DefaultMaxEntryBytes caps the decompressed size of any single entry we read.
const DefaultMaxEntryBytes int64 = 8 << 20

// Manifest is the descriptor every package must carry.
type Manifest struct {
	ClientOrgID    string          `json:"client_org_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Compliance     Compliance      `json:"compliance"`
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
}

// Compliance holds the content-safety assertions made by the agent.
type Compliance struct {
	Sanitized       bool `json:"sanitized"`
	RawLogsIncluded bool `json:"raw_logs_included"`
}

// Envelope is the parsed manifest.sig.json.
type Envelope struct {
	Algorithm       string `json:"algorithm"`
	KeyID           string `json:"key_id"`
	SignedFile      string `json:"signed_file"`
	SignatureBase64 string `json:"signature_base64"`
}

// Artifact is a package that passed every check.
type Artifact struct {
	// SHA256 is the uppercase hex digest of the exact bytes received.
	SHA256        string
	ManifestBytes []byte
	Manifest      Manifest
	Signature     *Envelope
	// Snapshot is the parsed snapshot.json, nil when absent or unreadable.
	Snapshot map[string]any
}

// Config is fixed at construction; nothing is read from the environment during verification.
type Config struct {
	SigningRequired bool
	Keys            Keyring
	MaxEntryBytes   int64
	Open            Opener
}

// Verifier checks package integrity, manifest policy and signatures. It performs no I/O.
type Verifier struct {
	signingRequired bool
	keys            Keyring
	maxEntryBytes   int64
	open            Opener
}

func New(cfg Config) *Verifier {
	v := &Verifier{
		signingRequired: cfg.SigningRequired,
		keys:            cfg.Keys,
		maxEntryBytes:   cfg.MaxEntryBytes,
		open:            cfg.Open,
	}
	if v.maxEntryBytes <= 0 {
		v.maxEntryBytes = DefaultMaxEntryBytes
	}
	if v.open == nil {
		v.open = OpenZip
	}
	if v.keys == nil {
		v.keys = Keyring{}
	}
	return v
}

// SigningRequired reports the configured signature policy.
func (v *Verifier) SigningRequired() bool {
	return v.signingRequired
}

// SHA256Hex returns the uppercase hex SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CanonicalHash validates a claimed SHA-256 hex value and upper-cases it.
func CanonicalHash(claimed string) (string, bool) {
	h := strings.TrimSpace(claimed)
	if len(h) != sha256.Size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", false
	}
	return strings.ToUpper(h), true
}

// Verify runs the ordered checks. Exactly one of the results is non-nil.
func (v *Verifier) Verify(zipBytes []byte, claimedHash, claimedClientOrgID, claimedIdempotencyKey string) (*Artifact, *apierr.Error) {
	headerHash, ok := CanonicalHash(claimedHash)
	if !ok {
		return nil, apierr.New(apierr.CodeInvalidHeaderFormat,
			"Header X-Summit-Package-Hash-SHA256 must be a 64-character hex SHA-256 value.").
			WithDetails(map[string]any{"header": "X-Summit-Package-Hash-SHA256"})
	}

	computed := SHA256Hex(zipBytes)
	if computed != headerHash {
		return nil, apierr.New(apierr.CodePackageHashMismatch,
			"X-Summit-Package-Hash-SHA256 does not match uploaded ZIP bytes.").
			WithDetails(map[string]any{
				"expected_hash_sha256": headerHash,
				"computed_hash_sha256": computed,
			})
	}

	archive, err := v.open(zipBytes)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidZip, "Invalid ZIP archive.")
	}

	if !hasEntry(archive, ManifestFile) {
		return nil, apierr.New(apierr.CodeMissingManifest, "manifest.json is required in package.")
	}

	manifestBytes, err := archive.ReadEntry(ManifestFile, v.maxEntryBytes)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidManifest, "Failed reading manifest.json.")
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, apierr.New(apierr.CodeInvalidManifest, "manifest.json is not valid JSON.")
	}

	if ferr := checkManifest(manifest, claimedClientOrgID, claimedIdempotencyKey); ferr != nil {
		return nil, ferr
	}

	envelope, ferr := v.checkSignature(archive, manifestBytes)
	if ferr != nil {
		return nil, ferr
	}

	return &Artifact{
		SHA256:        computed,
		ManifestBytes: manifestBytes,
		Manifest:      manifest,
		Signature:     envelope,
		Snapshot:      v.readSnapshot(archive, manifest),
	}, nil
}

func checkManifest(m Manifest, clientOrgID, idempotencyKey string) *apierr.Error {
	mClient := strings.TrimSpace(m.ClientOrgID)
	if mClient == "" || mClient != clientOrgID {
		return apierr.New(apierr.CodeInvalidManifest, "manifest.client_org_id must match X-Summit-Client-Org-Id.").
			WithDetails(map[string]any{
				"manifest_client_org_id": mClient,
				"header_client_org_id":   clientOrgID,
			})
	}

	mIdem := strings.TrimSpace(m.IdempotencyKey)
	if mIdem != "" && mIdem != idempotencyKey {
		return apierr.New(apierr.CodeInvalidManifest, "manifest.idempotency_key must match X-Idempotency-Key when present.").
			WithDetails(map[string]any{
				"manifest_idempotency_key": mIdem,
				"header_idempotency_key":   idempotencyKey,
			})
	}

	if !m.Compliance.Sanitized || m.Compliance.RawLogsIncluded {
		return apierr.New(apierr.CodeInvalidManifest, "manifest.compliance must assert sanitized=true and raw_logs_included=false.").
			WithDetails(map[string]any{
				"sanitized":         m.Compliance.Sanitized,
				"raw_logs_included": m.Compliance.RawLogsIncluded,
			})
	}
	return nil
}

func (v *Verifier) checkSignature(archive Archive, manifestBytes []byte) (*Envelope, *apierr.Error) {
	if !hasEntry(archive, SignatureFile) {
		if v.signingRequired {
			return nil, apierr.New(apierr.CodeMissingManifestSignature, "Tenant policy requires manifest.sig.json.").
				WithDetails(map[string]any{"signing_required": true})
		}
		return nil, nil
	}

	raw, err := archive.ReadEntry(SignatureFile, v.maxEntryBytes)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidManifestSignature, "Failed reading manifest.sig.json.")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierr.New(apierr.CodeInvalidManifestSignature, "manifest.sig.json is not valid JSON.")
	}
	env.Algorithm = strings.TrimSpace(env.Algorithm)
	env.KeyID = strings.TrimSpace(env.KeyID)
	env.SignedFile = strings.TrimSpace(env.SignedFile)
	env.SignatureBase64 = strings.TrimSpace(env.SignatureBase64)

	if env.Algorithm != SignatureAlgorithm || env.KeyID == "" || env.SignedFile != ManifestFile || env.SignatureBase64 == "" {
		return nil, apierr.New(apierr.CodeInvalidManifestSignature, "Invalid signature envelope fields.").
			WithDetails(map[string]any{
				"algorithm":   env.Algorithm,
				"key_id":      env.KeyID,
				"signed_file": env.SignedFile,
			})
	}

	// Unknown keys and bad signatures share one message so callers cannot probe the keyring.
	failed := apierr.New(apierr.CodeInvalidManifestSignature, "Manifest signature verification failed.").
		WithDetails(map[string]any{"key_id": env.KeyID, "algorithm": env.Algorithm})

	secret, ok := v.keys.Lookup(env.KeyID)
	if !ok {
		return nil, failed
	}

	// The MAC covers the stored manifest bytes, never a re-encoded copy.
	expected := Sign(secret, manifestBytes)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(env.SignatureBase64)) != 1 {
		return nil, failed
	}
	return &env, nil
}

// readSnapshot is best-effort: snapshot.json only feeds report context.
// An inline manifest.snapshot object is used when the archive carries no snapshot.json.
func (v *Verifier) readSnapshot(archive Archive, m Manifest) map[string]any {
	raw, err := archive.ReadEntry(SnapshotFile, v.maxEntryBytes)
	if errors.Is(err, ErrEntryNotFound) {
		raw, err = m.Snapshot, nil
	}
	if err != nil || len(raw) == 0 {
		return nil
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil
	}
	return snapshot
}
