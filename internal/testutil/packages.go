// Package testutil builds evidence packages for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/PratikDhanave/evidence-ingest-service/internal/verify"
)

// Entry is one file inside a test package.
type Entry struct {
	Name string
	Data []byte
}

// Manifest returns a policy-compliant manifest body for clientOrgID.
func Manifest(clientOrgID string) map[string]any {
	return map[string]any{
		"client_org_id": clientOrgID,
		"compliance": map[string]any{
			"sanitized":         true,
			"raw_logs_included": false,
		},
	}
}

// JSON marshals v or fails the test.
func JSON(t testing.TB, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// Zip writes entries, in order, into a ZIP archive.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			t.Fatalf("zip write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Envelope returns a manifest.sig.json body signing manifest with secret.
func Envelope(t testing.TB, keyID string, secret, manifest []byte) []byte {
	t.Helper()
	return JSON(t, verify.Envelope{
		Algorithm:       verify.SignatureAlgorithm,
		KeyID:           keyID,
		SignedFile:      verify.ManifestFile,
		SignatureBase64: verify.Sign(secret, manifest),
	})
}

// UnsignedPackage zips a manifest with no signature.
func UnsignedPackage(t testing.TB, manifest map[string]any) []byte {
	t.Helper()
	return Zip(t, Entry{Name: verify.ManifestFile, Data: JSON(t, manifest)})
}

// SignedPackage zips manifest plus a valid signature envelope.
func SignedPackage(t testing.TB, manifest map[string]any, keyID string, secret []byte) []byte {
	t.Helper()
	m := JSON(t, manifest)
	return Zip(t,
		Entry{Name: verify.ManifestFile, Data: m},
		Entry{Name: verify.SignatureFile, Data: Envelope(t, keyID, secret, m)},
	)
}
