package nodestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"okm-go/internal/okm"
)

// nodeRecord is the value stored under n:<uuid>. Exactly one of Document
// and Mail is set for documents and mails; folders carry neither.
type nodeRecord struct {
	Node     okm.Node      `json:"node"`
	Parent   string        `json:"parent,omitempty"`
	Document *documentData `json:"document,omitempty"`
	Mail     *mailData     `json:"mail,omitempty"`
}

type documentData struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Language     string    `json:"language"`
	MimeType     string    `json:"mime_type"`
	LastModified time.Time `json:"last_modified"`
	CheckedOut   bool      `json:"checked_out"`
	LockOwner    string    `json:"lock_owner"`
}

type mailData struct {
	From         string         `json:"from"`
	ReplyTo      []string       `json:"reply_to,omitempty"`
	To           []string       `json:"to,omitempty"`
	Cc           []string       `json:"cc,omitempty"`
	Bcc          []string       `json:"bcc,omitempty"`
	Subject      string         `json:"subject"`
	Content      string         `json:"content"`
	MimeType     string         `json:"mime_type"`
	SentDate     time.Time      `json:"sent_date"`
	ReceivedDate time.Time      `json:"received_date"`
	Ref          okm.ContentRef `json:"ref"`
}

// versionRecord is the value stored under v:<docUUID>:<seq>. The current
// flag is not stored: the highest sequence is the current version.
type versionRecord struct {
	Version okm.Version    `json:"version"`
	Ref     okm.ContentRef `json:"ref"`
}

func dbError(err error) error {
	return fmt.Errorf("%w: %w", okm.ErrDatabase, err)
}

// get decodes the JSON value stored at key into v. It reports false when
// the key does not exist.
func get(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, dbError(err))
	}
	return true, nil
}

func put(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("writing %s: %w", key, dbError(err))
	}
	return nil
}

func getString(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, dbError(err)
	}
	return string(val), true, nil
}

func setString(txn *badger.Txn, key []byte, val string) error {
	if err := txn.Set(key, []byte(val)); err != nil {
		return fmt.Errorf("writing %s: %w", key, dbError(err))
	}
	return nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err)
	}
	return true, nil
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
