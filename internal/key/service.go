package key

import (
	"encoding/hex"
	"fmt"
	"hlsrecd/internal/config"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/models"
	"strings"
)

// Service provides statically configured decryption keys and resolves key
// directives against them. It is initialized once at startup and is safe for
// concurrent reads.
type Service struct {
	keyMap map[string][]byte
}

// NewService creates a key service from decoded kid:key pairs.
func NewService(pairs []config.KeyPair) (*Service, error) {
	keyMap := make(map[string][]byte, len(pairs))
	for _, p := range pairs {
		if len(p.Key) == 0 {
			continue
		}
		kid := hex.EncodeToString(p.KID)
		if _, exists := keyMap[kid]; exists {
			return nil, fmt.Errorf("duplicate key ID found in config: %s", kid)
		}
		keyMap[kid] = p.Key
	}
	return &Service{keyMap: keyMap}, nil
}

// Len returns the number of configured keys.
func (s *Service) Len() int {
	return len(s.keyMap)
}

// GetKey retrieves a key by key ID. The ID may carry a 0x prefix or UUID
// dashes.
func (s *Service) GetKey(kid string) ([]byte, bool) {
	key, found := s.keyMap[normalizeKID(kid)]
	return key, found
}

// CanProcess accepts a key directive whose KEYID matches a configured key.
// With a single configured key, any encrypted directive is accepted.
func (s *Service) CanProcess(kind hls.ExtractorType, keyLine, _, _ string, _ *hls.ParserConfig) bool {
	if kind != hls.ExtractorHLS || len(s.keyMap) == 0 {
		return false
	}
	if kid := hls.Attribute(keyLine, "KEYID"); kid != "" {
		_, ok := s.GetKey(kid)
		return ok
	}
	method := models.ParseEncryptMethod(hls.Attribute(keyLine, "METHOD"))
	return len(s.keyMap) == 1 && method != models.EncryptNone
}

// Process resolves the directive with the configured key. Caller overrides
// in cfg win over the directive and the configured key.
func (s *Service) Process(keyLine, _, _ string, cfg *hls.ParserConfig) (models.EncryptInfo, error) {
	info := models.EncryptInfo{
		Method: models.ParseEncryptMethod(hls.Attribute(keyLine, "METHOD")),
	}
	if ivAttr := hls.Attribute(keyLine, "IV"); ivAttr != "" {
		iv, err := hls.ParseHexIV(ivAttr)
		if err != nil {
			return info, &hls.FormatError{Line: keyLine, Err: err}
		}
		info.IV = iv
	}

	if kid := hls.Attribute(keyLine, "KEYID"); kid != "" {
		key, ok := s.GetKey(kid)
		if !ok {
			return info, fmt.Errorf("no configured key for KEYID %s", kid)
		}
		info.Key = key
	} else {
		for _, key := range s.keyMap {
			info.Key = key
		}
	}

	if cfg.CustomMethod != nil {
		info.Method = *cfg.CustomMethod
	}
	if len(cfg.CustomKey) > 0 {
		info.Key = cfg.CustomKey
	}
	if len(cfg.CustomIV) > 0 {
		info.IV = cfg.CustomIV
	}
	return info, nil
}

func normalizeKID(kid string) string {
	kid = strings.ToLower(strings.TrimSpace(kid))
	kid = strings.TrimPrefix(kid, "0x")
	return strings.ReplaceAll(kid, "-", "")
}
