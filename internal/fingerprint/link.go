package fingerprint

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/skysync/internal/common"
)

// Protocol names a hash-link wire encoding. The string forms are contract
// bound: other clients consume the same links, so any deviation breaks
// interoperability.
type Protocol string

const (
	// ProtocolCS3L: cs3l://<content_md5>#<slice_md5>#<crc32>#<length>#<filename>
	ProtocolCS3L Protocol = "cs3l"
	// ProtocolShort: <content_md5>#<slice_md5>#<length>#<filename> (no crc32)
	ProtocolShort Protocol = "short"
	// ProtocolBdpan: bdpan://base64(<filename>|<length>|<content_md5>|<slice_md5>)
	ProtocolBdpan Protocol = "bdpan"
)

// DefaultProtocol is used when callers do not ask for a specific encoding.
const DefaultProtocol = ProtocolCS3L

// Encode serializes the fingerprint under the named protocol.
func Encode(fp *Fingerprint, protocol Protocol) (string, error) {
	switch protocol {
	case ProtocolCS3L:
		return fmt.Sprintf("cs3l://%s#%s#%d#%d#%s",
			fp.ContentMD5, fp.SliceMD5, fp.CRC32, fp.Length, url.PathEscape(fp.Filename)), nil
	case ProtocolShort:
		return fmt.Sprintf("%s#%s#%d#%s",
			fp.ContentMD5, fp.SliceMD5, fp.Length, url.PathEscape(fp.Filename)), nil
	case ProtocolBdpan:
		raw := fmt.Sprintf("%s|%d|%s|%s", fp.Filename, fp.Length, fp.ContentMD5, fp.SliceMD5)
		return "bdpan://" + base64.StdEncoding.EncodeToString([]byte(raw)), nil
	default:
		return "", fmt.Errorf("%w: unknown protocol %q", common.ErrMalformedHashLink, protocol)
	}
}

// Decode parses a hash link in any of the three protocols, detected by
// prefix. Links with missing or malformed separators are rejected with
// common.ErrMalformedHashLink. The crc32 field is absent from short and
// bdpan links and comes back as zero.
func Decode(link string) (*Fingerprint, error) {
	switch {
	case strings.HasPrefix(link, "cs3l://"):
		return decodeCS3L(link[len("cs3l://"):])
	case strings.HasPrefix(link, "bdpan://"):
		return decodeBdpan(link[len("bdpan://"):])
	default:
		return decodeShort(link)
	}
}

// DecodeWithFilename parses link and, when filename is non-empty, replaces
// the filename carried by the link. An explicit filename always wins over
// the parsed one; this is the documented override policy, not an error.
func DecodeWithFilename(link, filename string) (*Fingerprint, error) {
	fp, err := Decode(link)
	if err != nil {
		return nil, err
	}
	if filename != "" {
		fp.Filename = filename
	}
	return fp, nil
}

func decodeCS3L(s string) (*Fingerprint, error) {
	chunks := strings.SplitN(s, "#", 5)
	if len(chunks) != 5 {
		return nil, fmt.Errorf("%w: cs3l link needs 5 fields, got %d", common.ErrMalformedHashLink, len(chunks))
	}

	// crc32 may be empty in links produced by other clients
	var crc uint64
	if chunks[2] != "" {
		var err error
		crc, err = strconv.ParseUint(chunks[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad crc32 %q", common.ErrMalformedHashLink, chunks[2])
		}
	}

	return buildFingerprint(chunks[0], chunks[1], uint32(crc), chunks[3], chunks[4], true)
}

func decodeShort(s string) (*Fingerprint, error) {
	chunks := strings.SplitN(s, "#", 4)
	if len(chunks) != 4 {
		return nil, fmt.Errorf("%w: short link needs 4 fields, got %d", common.ErrMalformedHashLink, len(chunks))
	}
	return buildFingerprint(chunks[0], chunks[1], 0, chunks[2], chunks[3], true)
}

func decodeBdpan(s string) (*Fingerprint, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", common.ErrMalformedHashLink, err)
	}

	// The filename comes first and may itself contain '|', so the three
	// fixed fields are split off from the right.
	rest := string(raw)
	var fields [3]string
	for i := 2; i >= 0; i-- {
		j := strings.LastIndexByte(rest, '|')
		if j < 0 {
			return nil, fmt.Errorf("%w: bdpan link needs 4 fields", common.ErrMalformedHashLink)
		}
		fields[i] = rest[j+1:]
		rest = rest[:j]
	}

	// fields: [length, content_md5, slice_md5]; rest is the filename.
	return buildFingerprint(fields[1], fields[2], 0, fields[0], rest, false)
}

func buildFingerprint(contentMD5, sliceMD5 string, crc uint32, length, filename string, unescape bool) (*Fingerprint, error) {
	if len(contentMD5) != 32 || len(sliceMD5) != 32 {
		return nil, fmt.Errorf("%w: md5 fields must be 32 hex chars", common.ErrMalformedHashLink)
	}

	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad content length %q", common.ErrMalformedHashLink, length)
	}

	if unescape {
		unescaped, err := url.PathUnescape(filename)
		if err != nil {
			return nil, fmt.Errorf("%w: bad filename escaping: %v", common.ErrMalformedHashLink, err)
		}
		filename = unescaped
	}

	return &Fingerprint{
		ContentMD5: strings.ToLower(contentMD5),
		SliceMD5:   strings.ToLower(sliceMD5),
		CRC32:      crc,
		Length:     n,
		Filename:   filename,
	}, nil
}
