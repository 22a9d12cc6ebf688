package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_KnownVector(t *testing.T) {
	fp, err := Compute(bytes.NewReader([]byte("hello world")), "greeting.txt")
	require.NoError(t, err)

	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", fp.ContentMD5)
	assert.Equal(t, fp.ContentMD5, fp.SliceMD5, "slice hash equals content hash for small files")
	assert.Equal(t, crc32.ChecksumIEEE([]byte("hello world")), fp.CRC32)
	assert.Equal(t, int64(11), fp.Length)
	assert.Equal(t, "greeting.txt", fp.Filename)
}

func TestCompute_EmptyContent(t *testing.T) {
	fp, err := Compute(bytes.NewReader(nil), "empty")
	require.NoError(t, err)

	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", fp.ContentMD5)
	assert.Equal(t, fp.ContentMD5, fp.SliceMD5)
	assert.Equal(t, int64(0), fp.Length)
}

func TestCompute_SliceHashOfLargeContent(t *testing.T) {
	rg := rand.New(rand.NewSource(7))
	data := make([]byte, common.SliceSize+50000)
	rg.Read(data)

	fp, err := Compute(bytes.NewReader(data), "big.bin")
	require.NoError(t, err)

	wantContent := md5.Sum(data)
	wantSlice := md5.Sum(data[:common.SliceSize])

	assert.Equal(t, hex.EncodeToString(wantContent[:]), fp.ContentMD5)
	assert.Equal(t, hex.EncodeToString(wantSlice[:]), fp.SliceMD5)
	assert.NotEqual(t, fp.ContentMD5, fp.SliceMD5)
	assert.Equal(t, int64(len(data)), fp.Length)
}

func sampleFingerprint() *Fingerprint {
	return &Fingerprint{
		ContentMD5: "5eb63bbbe01eeed093cb22bb8f5acdc3",
		SliceMD5:   "d41d8cd98f00b204e9800998ecf8427e",
		CRC32:      223957957,
		Length:     1048576,
		Filename:   "my movie.mkv",
	}
}

func TestEncode_WireFormats(t *testing.T) {
	fp := sampleFingerprint()

	cs3l, err := Encode(fp, ProtocolCS3L)
	require.NoError(t, err)
	assert.Equal(t,
		"cs3l://5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e#223957957#1048576#my%20movie.mkv",
		cs3l)

	short, err := Encode(fp, ProtocolShort)
	require.NoError(t, err)
	assert.Equal(t,
		"5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e#1048576#my%20movie.mkv",
		short)

	bdpan, err := Encode(fp, ProtocolBdpan)
	require.NoError(t, err)
	assert.Equal(t, "bdpan://", bdpan[:8])
}

func TestRoundTrip_AllProtocols(t *testing.T) {
	fp := sampleFingerprint()

	for _, protocol := range []Protocol{ProtocolCS3L, ProtocolShort, ProtocolBdpan} {
		link, err := Encode(fp, protocol)
		require.NoError(t, err)

		got, err := Decode(link)
		require.NoError(t, err, "protocol=%s", protocol)

		assert.Equal(t, fp.ContentMD5, got.ContentMD5, "protocol=%s", protocol)
		assert.Equal(t, fp.SliceMD5, got.SliceMD5, "protocol=%s", protocol)
		assert.Equal(t, fp.Length, got.Length, "protocol=%s", protocol)
		assert.Equal(t, fp.Filename, got.Filename, "protocol=%s", protocol)

		if protocol == ProtocolCS3L {
			assert.Equal(t, fp.CRC32, got.CRC32)
		} else {
			// crc32 is not part of the short/bdpan encodings
			assert.Zero(t, got.CRC32, "protocol=%s", protocol)
		}
	}
}

func TestDecode_BdpanFilenameWithPipe(t *testing.T) {
	fp := sampleFingerprint()
	fp.Filename = "weird|name|with|pipes.bin"

	link, err := Encode(fp, ProtocolBdpan)
	require.NoError(t, err)

	got, err := Decode(link)
	require.NoError(t, err)
	assert.Equal(t, fp.Filename, got.Filename)
	assert.Equal(t, fp.ContentMD5, got.ContentMD5)
	assert.Equal(t, fp.SliceMD5, got.SliceMD5)
	assert.Equal(t, fp.Length, got.Length)
}

func TestDecode_CS3LEmptyCRC(t *testing.T) {
	link := "cs3l://5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e##42#file.txt"
	got, err := Decode(link)
	require.NoError(t, err)
	assert.Zero(t, got.CRC32)
	assert.Equal(t, int64(42), got.Length)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{"cs3l too few fields", "cs3l://abc#def"},
		{"cs3l bad crc", "cs3l://5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e#xyz#42#f"},
		{"cs3l short md5", "cs3l://abc#def#0#42#f"},
		{"short too few fields", "5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e#42"},
		{"short bad length", "5eb63bbbe01eeed093cb22bb8f5acdc3#d41d8cd98f00b204e9800998ecf8427e#NaN#f"},
		{"bdpan not base64", "bdpan://%%%%"},
		{"bdpan missing pipes", "bdpan://aGVsbG8="},
		{"empty", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.link)
			require.ErrorIs(t, err, common.ErrMalformedHashLink)
		})
	}
}

func TestDecodeWithFilename_ExplicitWins(t *testing.T) {
	link, err := Encode(sampleFingerprint(), ProtocolCS3L)
	require.NoError(t, err)

	got, err := DecodeWithFilename(link, "renamed.mkv")
	require.NoError(t, err)
	assert.Equal(t, "renamed.mkv", got.Filename)

	// empty explicit filename keeps the parsed one
	got, err = DecodeWithFilename(link, "")
	require.NoError(t, err)
	assert.Equal(t, "my movie.mkv", got.Filename)
}

func TestEncode_UnknownProtocol(t *testing.T) {
	_, err := Encode(sampleFingerprint(), Protocol("magnet"))
	require.ErrorIs(t, err, common.ErrMalformedHashLink)
}
