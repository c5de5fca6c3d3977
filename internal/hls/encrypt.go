package hls

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hlsrecd/internal/models"
	"strings"
)

// EncryptContext is the encryption state carried forward across segment
// lines until a key directive with a different URI replaces it.
type EncryptContext struct {
	Info models.EncryptInfo
	// lastKeyLine is the previous key directive, used to skip re-resolving
	// a key whose URI did not change.
	lastKeyLine string
}

// newEncryptContext seeds the context from caller-supplied overrides.
func newEncryptContext(cfg *ParserConfig) EncryptContext {
	var ctx EncryptContext
	if cfg.CustomMethod != nil {
		ctx.Info.Method = *cfg.CustomMethod
	}
	if len(cfg.CustomKey) > 0 {
		ctx.Info.Key = cfg.CustomKey
	}
	if len(cfg.CustomIV) > 0 {
		ctx.Info.IV = cfg.CustomIV
	}
	return ctx
}

// keyResolver turns a key directive into encryption parameters.
type keyResolver func(line string) (models.EncryptInfo, error)

// applyKeyDirective is the transition for an EXT-X-KEY line. A directive
// repeating the previous URI keeps the current parameters without invoking
// the resolver. Before any key line the previous URI is empty, so a leading
// URI-less directive (METHOD=NONE) leaves the seeded context alone.
func applyKeyDirective(ctx EncryptContext, line string, resolve keyResolver) (EncryptContext, error) {
	if Attribute(line, "URI") == Attribute(ctx.lastKeyLine, "URI") {
		ctx.lastKeyLine = line
		return ctx, nil
	}
	info, err := resolve(line)
	if err != nil {
		return ctx, err
	}
	ctx.Info = info
	ctx.lastKeyLine = line
	return ctx, nil
}

// snapshot copies the running context for a segment with the given index.
// A method without a declared IV gets the big-endian index as its IV.
func (c EncryptContext) snapshot(index int64) models.EncryptInfo {
	if c.Info.Method == models.EncryptNone {
		return models.EncryptInfo{}
	}
	info := c.Info.Clone()
	if len(info.IV) == 0 {
		info.IV = sequenceIV(index)
	}
	return info
}

// sequenceIV encodes index in the low eight bytes of a 16-byte IV.
func sequenceIV(index int64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], uint64(index))
	return iv
}

// ParseHexIV decodes an IV attribute such as 0x0123... into bytes.
func ParseHexIV(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid IV %q: %w", s, err)
	}
	return iv, nil
}
