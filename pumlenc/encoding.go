package pumlenc

import (
	"fmt"
	"strings"
)

// Encoding selects how diagram sources are turned into URL payloads.
// It satisfies pumltransform.Encoder.
type Encoding string

const (
	EncodingDeflate Encoding = "deflate"
	EncodingHex     Encoding = "hex"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingDeflate:
		return EncodingDeflate, nil
	case EncodingHex:
		return EncodingHex, nil
	}
	return "", fmt.Errorf("unknown encoding %q: expected %q or %q", s, EncodingDeflate, EncodingHex)
}

func (e Encoding) Encode(src string) (string, error) {
	switch e {
	case "", EncodingDeflate:
		return Encode(src)
	case EncodingHex:
		return EncodeHex(src)
	}
	return "", fmt.Errorf("unknown encoding %q", string(e))
}
