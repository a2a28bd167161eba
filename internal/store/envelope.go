package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "keygate/internal/errors"
	"keygate/internal/security"
	"keygate/pkg/contracts/domain"
)

const (
	// RecordSchema identifies a persisted activation record
	RecordSchema = "keygate.activation-record"
	// RecordVersion is the only schema version this build reads and writes
	RecordVersion = 1
)

type envelope struct {
	Schema    string          `json:"schema"`
	Version   int             `json:"version"`
	Record    json.RawMessage `json:"record"`
	Signature string          `json:"signature"`
}

// codec turns records into signed, sealed bytes and back
type codec struct {
	signer *security.Signer
	sealer Sealer
}

func newCodec(signer *security.Signer, sealer Sealer) codec {
	if sealer == nil {
		sealer = Plain{}
	}
	return codec{signer: signer, sealer: sealer}
}

func signingInput(schema string, version int, record []byte) []byte {
	prefix := schema + "|" + strconv.Itoa(version) + "|"
	return append([]byte(prefix), record...)
}

// sign returns the record body and its signature
func (c codec) sign(rec domain.ActivationRecord) ([]byte, string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return body, c.signer.Sign(signingInput(RecordSchema, RecordVersion, body)), nil
}

// verify checks a stored body and decodes it
func (c codec) verify(schema string, version int, body []byte, signature string) (*domain.ActivationRecord, error) {
	if schema != RecordSchema || version != RecordVersion {
		return nil, fmt.Errorf("%w: %s v%d", apperrors.ErrUnsupportedSchema, schema, version)
	}
	if err := c.signer.Verify(signingInput(schema, version, body), signature); err != nil {
		return nil, apperrors.ErrRecordTampered
	}

	var rec domain.ActivationRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func (c codec) encode(rec domain.ActivationRecord) ([]byte, error) {
	body, sig, err := c.sign(rec)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(envelope{
		Schema:    RecordSchema,
		Version:   RecordVersion,
		Record:    body,
		Signature: sig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return c.sealer.Seal(data)
}

func (c codec) decode(data []byte) (*domain.ActivationRecord, error) {
	plain, err := c.sealer.Open(data)
	if err != nil {
		// An unreadable blob is indistinguishable from a forged one
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRecordTampered, err)
	}

	var env envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", apperrors.ErrRecordTampered, err)
	}
	return c.verify(env.Schema, env.Version, env.Record, env.Signature)
}
