package verify

import (
	"encoding/json"
	"fmt"
)

// decodeObject binds each key of a JSON object to the target registered under
// exactly that name. encoding/json folds case when matching struct fields, so
// "SANITIZED" or a later "Compliance" would otherwise fill the policy fields.
// Keys not in fields are ignored; absent keys leave their target untouched.
func decodeObject(data []byte, fields map[string]any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, dst := range fields {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var out Manifest
	if err := decodeObject(data, map[string]any{
		"client_org_id":   &out.ClientOrgID,
		"idempotency_key": &out.IdempotencyKey,
		"compliance":      &out.Compliance,
		"snapshot":        &out.Snapshot,
	}); err != nil {
		return err
	}
	*m = out
	return nil
}

func (c *Compliance) UnmarshalJSON(data []byte) error {
	var out Compliance
	if err := decodeObject(data, map[string]any{
		"sanitized":         &out.Sanitized,
		"raw_logs_included": &out.RawLogsIncluded,
	}); err != nil {
		return err
	}
	*c = out
	return nil
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var out Envelope
	if err := decodeObject(data, map[string]any{
		"algorithm":        &out.Algorithm,
		"key_id":           &out.KeyID,
		"signed_file":      &out.SignedFile,
		"signature_base64": &out.SignatureBase64,
	}); err != nil {
		return err
	}
	*e = out
	return nil
}
