// Package fingerprint computes compact content identities for files and
// encodes them as portable "hash links".
//
// A fingerprint couples the MD5 of the whole content with the MD5 of the
// leading 256 KiB slice (a cheap secondary check), an optional CRC32 and the
// content length. Together these are enough to request instant registration
// ("rapid upload") of a file that the remote store already holds, skipping
// the byte transfer entirely.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/dmitrijs2005/skysync/internal/common"
)

// Fingerprint is the content identity of one file.
//
// SliceMD5 equals ContentMD5 when the content is at most 256 KiB: there is
// no point hashing the same bytes twice.
type Fingerprint struct {
	ContentMD5 string // hex, 32 chars
	SliceMD5   string // hex, 32 chars; MD5 of the first 256 KiB
	CRC32      uint32 // optional; 0 when unknown
	Length     int64
	Filename   string
}

// Compute streams r once and returns its fingerprint. The filename is
// carried verbatim into the fingerprint; it does not affect the digests.
func Compute(r io.Reader, filename string) (*Fingerprint, error) {
	contentHash := md5.New()
	sliceHash := md5.New()
	crc := crc32.NewIEEE()

	// Hash the leading slice and the full content in one pass.
	n, err := io.Copy(io.MultiWriter(contentHash, sliceHash, crc), io.LimitReader(r, common.SliceSize))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	rest, err := io.Copy(io.MultiWriter(contentHash, crc), r)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	fp := &Fingerprint{
		ContentMD5: hex.EncodeToString(contentHash.Sum(nil)),
		CRC32:      crc.Sum32(),
		Length:     n + rest,
		Filename:   filename,
	}
	if fp.Length <= common.SliceSize {
		fp.SliceMD5 = fp.ContentMD5
	} else {
		fp.SliceMD5 = hex.EncodeToString(sliceHash.Sum(nil))
	}
	return fp, nil
}

// ComputeFile fingerprints the file at path, using its base name as the
// fingerprint filename unless name is non-empty.
func ComputeFile(path, name string) (*Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	defer f.Close()

	if name == "" {
		name = f.Name()
		if i := lastSlash(name); i >= 0 {
			name = name[i+1:]
		}
	}
	return Compute(f, name)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return i
		}
	}
	return -1
}
