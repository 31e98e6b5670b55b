package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/inkwell/internal/util"
)

const (
	// SchemeJSON marks a plain JSON document.
	SchemeJSON = "json"
	// SchemeAESGCM marks a document sealed with AES-256-GCM.
	SchemeAESGCM = "aes256gcm"
)

// Record is a stored document. Plain documents carry JSON in Data; sealed
// documents carry ciphertext in Data and the GCM nonce in Nonce.
type Record struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Nonce   []byte `json:"nonce,omitempty"`
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Ver:     r.Ver,
		Scheme:  r.Scheme,
		Nonce:   append([]byte(nil), r.Nonce...),
		Data:    append([]byte(nil), r.Data...),
		Version: r.Version,
	}
}

// EncodeJSON marshals v into a plain record with the given version.
func EncodeJSON(v any, version uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Record{Ver: 1, Scheme: SchemeJSON, Data: data, Version: version}, nil
}

// DecodeJSON unmarshals a plain record into v.
func DecodeJSON(r *Record, v any) error {
	if r.Scheme != SchemeJSON {
		return fmt.Errorf("unsupported record scheme: %s", r.Scheme)
	}
	return json.Unmarshal(r.Data, v)
}

// SealRecord encrypts plaintext into a Record using key and aad.
func SealRecord(key, plaintext, aad []byte) (*Record, error) {
	sealed, err := util.SealAESGCM(plaintext, key, aad)
	if err != nil {
		return nil, err
	}
	return &Record{
		Ver:    1,
		Scheme: SchemeAESGCM,
		Nonce:  sealed[:util.NonceSize],
		Data:   sealed[util.NonceSize:],
	}, nil
}

// OpenRecord decrypts a sealed Record using key and aad.
func OpenRecord(key []byte, r *Record, aad []byte) ([]byte, error) {
	if r.Ver != 1 {
		return nil, fmt.Errorf("unsupported record version: %d", r.Ver)
	}
	if r.Scheme != SchemeAESGCM {
		return nil, fmt.Errorf("unsupported record scheme: %s", r.Scheme)
	}
	full := make([]byte, len(r.Nonce)+len(r.Data))
	copy(full, r.Nonce)
	copy(full[len(r.Nonce):], r.Data)
	return util.OpenAESGCM(full, key, aad)
}
