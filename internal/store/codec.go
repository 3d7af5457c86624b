package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/fact"
)

var (
	// ErrNotFound is returned by Update and Invalidate for unknown ids.
	ErrNotFound = errors.New("fact not found")

	// ErrInvalidFact wraps validation failures of incoming facts.
	ErrInvalidFact = fact.ErrInvalid

	// ErrDecryption is returned when a stored payload cannot be opened with
	// the caller's key.
	ErrDecryption = crypto.ErrDecryption
)

const factColumns = `id, subject, predicate, object_ct, object_iv, object_tag,
	valid_from, valid_to, last_confirmed_at, last_updated,
	fact_type, confidence, source, scope, ttl_seconds, decay_half_life,
	entities, retrieval_count, last_retrieved_at,
	metadata_ct, metadata_iv, metadata_tag, source_id`

// sealedFact is a row as it sits on disk: plaintext columns decoded, object
// and metadata still encrypted.
type sealedFact struct {
	fact.TemporalFact
	object   crypto.Blob
	metadata *crypto.Blob
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSealed(s rowScanner) (*sealedFact, error) {
	var sf sealedFact
	var validTo, ttl, lastRetrieved sql.NullInt64
	var sourceID sql.NullString
	var entities string
	var metaCT, metaIV, metaTag []byte

	err := s.Scan(&sf.ID, &sf.Subject, &sf.Predicate,
		&sf.object.Ciphertext, &sf.object.IV, &sf.object.AuthTag,
		&sf.ValidFrom, &validTo, &sf.LastConfirmedAt, &sf.LastUpdated,
		&sf.Type, &sf.Confidence, &sf.Source, &sf.Scope, &ttl, &sf.DecayHalfLife,
		&entities, &sf.RetrievalCount, &lastRetrieved,
		&metaCT, &metaIV, &metaTag, &sourceID)
	if err != nil {
		return nil, err
	}

	if validTo.Valid {
		sf.ValidTo = &validTo.Int64
	}
	if ttl.Valid {
		sf.TTLSeconds = &ttl.Int64
	}
	if lastRetrieved.Valid {
		sf.LastRetrievedAt = &lastRetrieved.Int64
	}
	if sourceID.Valid {
		sf.SourceID = &sourceID.String
	}
	if metaCT != nil {
		sf.metadata = &crypto.Blob{Ciphertext: metaCT, IV: metaIV, AuthTag: metaTag}
	}
	if err := json.Unmarshal([]byte(entities), &sf.Entities); err != nil {
		return nil, fmt.Errorf("decode entities for %s: %w", sf.ID, err)
	}
	return &sf, nil
}

// openObject decrypts only the object column.
func (db *DB) openObject(key crypto.Key, sf *sealedFact) (string, error) {
	plain, err := db.cipher.Decrypt(key, sf.object)
	if err != nil {
		return "", fmt.Errorf("decrypt object of %s: %w", sf.ID, err)
	}
	return string(plain), nil
}

// open decrypts a sealed row into a domain fact.
func (db *DB) open(key crypto.Key, sf *sealedFact) (*fact.TemporalFact, error) {
	f := sf.TemporalFact

	obj, err := db.openObject(key, sf)
	if err != nil {
		return nil, err
	}
	f.Object = obj

	if sf.metadata != nil {
		meta, err := db.openMetadata(key, sf)
		if err != nil {
			return nil, err
		}
		f.Metadata = meta
	}
	return &f, nil
}

func (db *DB) openMetadata(key crypto.Key, sf *sealedFact) (map[string]any, error) {
	if sf.metadata == nil {
		return nil, nil
	}
	plain, err := db.cipher.Decrypt(key, *sf.metadata)
	if err != nil {
		return nil, fmt.Errorf("decrypt metadata of %s: %w", sf.ID, err)
	}
	var meta map[string]any
	if err := json.Unmarshal(plain, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", sf.ID, err)
	}
	return meta, nil
}

// sealMetadata encrypts metadata as JSON. Empty metadata is stored as NULL.
func (db *DB) sealMetadata(key crypto.Key, meta map[string]any) (*crypto.Blob, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	blob, err := db.cipher.Encrypt(key, data)
	if err != nil {
		return nil, fmt.Errorf("encrypt metadata: %w", err)
	}
	return &blob, nil
}

// seal encrypts the object and metadata of f.
func (db *DB) seal(key crypto.Key, f *fact.TemporalFact) (*sealedFact, error) {
	obj, err := db.cipher.Encrypt(key, []byte(f.Object))
	if err != nil {
		return nil, fmt.Errorf("encrypt object: %w", err)
	}
	meta, err := db.sealMetadata(key, f.Metadata)
	if err != nil {
		return nil, err
	}
	sf := &sealedFact{TemporalFact: *f, object: obj, metadata: meta}
	sf.Object = ""
	sf.Metadata = nil
	return sf, nil
}

func blobColumns(b *crypto.Blob) (ct, iv, tag any) {
	if b == nil {
		return nil, nil, nil
	}
	return b.Ciphertext, b.IV, b.AuthTag
}

func encodeEntities(entities []string) (string, error) {
	if entities == nil {
		entities = []string{}
	}
	data, err := json.Marshal(entities)
	if err != nil {
		return "", fmt.Errorf("encode entities: %w", err)
	}
	return string(data), nil
}
