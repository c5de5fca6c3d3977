package models

import (
	"bytes"
	"strings"
)

// EncryptMethod is the closed set of encryption methods a manifest can declare.
type EncryptMethod int

const (
	EncryptNone EncryptMethod = iota
	EncryptAES128
	EncryptAES128ECB
	EncryptChaCha20
	EncryptSampleAES
	EncryptSampleAESCTR
	EncryptCENC
	EncryptUnknown
)

var encryptMethodNames = map[EncryptMethod]string{
	EncryptNone:         "NONE",
	EncryptAES128:       "AES-128",
	EncryptAES128ECB:    "AES-128-ECB",
	EncryptChaCha20:     "CHACHA20",
	EncryptSampleAES:    "SAMPLE-AES",
	EncryptSampleAESCTR: "SAMPLE-AES-CTR",
	EncryptCENC:         "CENC",
	EncryptUnknown:      "UNKNOWN",
}

func (m EncryptMethod) String() string {
	if name, ok := encryptMethodNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the method as its manifest spelling.
func (m EncryptMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseEncryptMethod maps a METHOD attribute value to an EncryptMethod.
// Matching ignores case and treats '-' and '_' alike. Anything unrecognized
// is EncryptUnknown, never EncryptNone.
func ParseEncryptMethod(method string) EncryptMethod {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(method), "_", "-"))
	for m, name := range encryptMethodNames {
		if name == norm {
			return m
		}
	}
	return EncryptUnknown
}

// EncryptInfo holds the encryption parameters captured for a segment.
type EncryptInfo struct {
	Method EncryptMethod
	Key    []byte
	IV     []byte
}

// Clone deep-copies the key and IV so the result can be handed to another
// goroutine without aliasing.
func (e EncryptInfo) Clone() EncryptInfo {
	return EncryptInfo{
		Method: e.Method,
		Key:    bytes.Clone(e.Key),
		IV:     bytes.Clone(e.IV),
	}
}

// Equal reports whether two encryption snapshots are identical.
func (e EncryptInfo) Equal(o EncryptInfo) bool {
	return e.Method == o.Method && bytes.Equal(e.Key, o.Key) && bytes.Equal(e.IV, o.IV)
}
