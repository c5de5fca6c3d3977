package hls

import (
	"errors"
	"hlsrecd/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyKeyDirective(t *testing.T) {
	calls := 0
	resolve := func(line string) (models.EncryptInfo, error) {
		calls++
		return models.EncryptInfo{
			Method: models.ParseEncryptMethod(Attribute(line, "METHOD")),
			Key:    []byte(Attribute(line, "URI")),
		}, nil
	}

	var ctx EncryptContext

	// A leading URI-less directive matches the empty previous URI.
	ctx, err := applyKeyDirective(ctx, "#EXT-X-KEY:METHOD=NONE", resolve)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, models.EncryptNone, ctx.Info.Method)

	ctx, err = applyKeyDirective(ctx, `#EXT-X-KEY:METHOD=AES-128,URI="k1"`, resolve)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.EncryptAES128, ctx.Info.Method)
	assert.Equal(t, []byte("k1"), ctx.Info.Key)

	// Same URI: the resolver is not consulted again.
	ctx, err = applyKeyDirective(ctx, `#EXT-X-KEY:METHOD=AES-128,URI="k1",IV=0x01`, resolve)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	ctx, err = applyKeyDirective(ctx, `#EXT-X-KEY:METHOD=SAMPLE-AES,URI="k2"`, resolve)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, models.EncryptSampleAES, ctx.Info.Method)
}

func TestApplyKeyDirective_ErrorKeepsContext(t *testing.T) {
	boom := errors.New("boom")
	ctx := EncryptContext{Info: models.EncryptInfo{Method: models.EncryptAES128}}
	got, err := applyKeyDirective(ctx, `#EXT-X-KEY:METHOD=AES-128,URI="k"`, func(string) (models.EncryptInfo, error) {
		return models.EncryptInfo{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ctx, got)
}

func TestSnapshot(t *testing.T) {
	var none EncryptContext
	assert.Equal(t, models.EncryptInfo{}, none.snapshot(3))

	ctx := EncryptContext{Info: models.EncryptInfo{Method: models.EncryptAES128, Key: []byte{1, 2, 3}}}
	snap := ctx.snapshot(258)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2}, snap.IV)

	// The snapshot owns its bytes.
	snap.Key[0] = 9
	assert.Equal(t, byte(1), ctx.Info.Key[0])

	ctx.Info.IV = []byte{7}
	assert.Equal(t, []byte{7}, ctx.snapshot(258).IV)
}

func TestParseHexIV(t *testing.T) {
	iv, err := ParseHexIV("0x000102030405060708090A0B0C0D0E0F")
	require.NoError(t, err)
	assert.Len(t, iv, 16)
	assert.Equal(t, byte(0x0f), iv[15])

	iv, err = ParseHexIV("0X1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, iv)

	_, err = ParseHexIV("0xZZ")
	assert.Error(t, err)
}

func TestIsAdSegment(t *testing.T) {
	assert.True(t, isAdSegment(models.MediaSegment{URL: "https://v.example.com/ad/1.ts?ccode=0502&duration=15"}))
	assert.True(t, isAdSegment(models.MediaSegment{URL: "https://v.example.com/x.ts?ccode=0902&duration=15"}))
	assert.False(t, isAdSegment(models.MediaSegment{URL: "https://v.example.com/x.ts?ccode=0502&duration=15"}))
	assert.False(t, isAdSegment(models.MediaSegment{URL: "https://v.example.com/seg1.ts"}))
}
