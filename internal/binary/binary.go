// Package binary decides whether file content should be shown as text.
package binary

import (
	"bytes"
	"path"
	"strings"
)

// SampleSize is the number of leading bytes inspected by the density check.
const SampleSize = 8192

const suspiciousRatio = 0.30

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".ico": {},
	".pdf": {}, ".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".tgz": {},
	".mp3": {}, ".wav": {}, ".flac": {},
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".webm": {},
	".exe": {}, ".dll": {}, ".bin": {}, ".dmg": {}, ".pkg": {}, ".iso": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {},
	".so": {}, ".dylib": {}, ".class": {}, ".jar": {},
	".psd": {}, ".ai": {}, ".sketch": {},
	".wasm": {}, ".svg": {},
}

// IsBinaryPath reports whether the extension of p is one usually holding
// binary content. Matching is case-insensitive.
func IsBinaryPath(p string) bool {
	_, ok := binaryExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// ConclusiveByPath reports whether the extension alone settles the
// classification, so content never has to be read. SVG is excluded because it
// is usually XML text.
func ConclusiveByPath(p string) bool {
	return IsBinaryPath(p) && !strings.EqualFold(path.Ext(p), ".svg")
}

type signature struct {
	offset int
	magic  []byte
}

var signatures = []signature{
	{0, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{0, []byte{0xff, 0xd8, 0xff}},
	{0, []byte("GIF87a")},
	{0, []byte("GIF89a")},
	{0, []byte("%PDF-")},
	{0, []byte{0x1f, 0x8b, 0x08}},
	{0, []byte("ID3")},
	{0, []byte("OggS")},
	{0, []byte{0x1a, 0x45, 0xdf, 0xa3}},
	{0, []byte("wOFF")},
	{0, []byte("wOF2")},
	{0, []byte{0x00, 0x01, 0x00, 0x00}},
	{0, []byte("OTTO")},
	{0, []byte("MZ")},
	{0, []byte{0x7f, 'E', 'L', 'F'}},
}

// HasMagic reports whether sample starts with a known binary file signature.
func HasMagic(sample []byte) bool {
	for _, sig := range signatures {
		if len(sample) >= sig.offset+len(sig.magic) && bytes.Equal(sample[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return true
		}
	}
	if isZip(sample) {
		return true
	}
	// ISO-BMFF (mp4, mov, heic) carries "ftyp" after the box size.
	if len(sample) >= 12 && bytes.Equal(sample[4:8], []byte("ftyp")) {
		return true
	}
	return false
}

// isZip matches the local file, central directory and end of central
// directory records ("PK\x03\x04", "PK\x05\x06", "PK\x07\x08").
func isZip(sample []byte) bool {
	if len(sample) < 4 || sample[0] != 'P' || sample[1] != 'K' {
		return false
	}
	switch {
	case sample[2] == 0x03 && sample[3] == 0x04,
		sample[2] == 0x05 && sample[3] == 0x06,
		sample[2] == 0x07 && sample[3] == 0x08:
		return true
	}
	return false
}

// IsXMLText reports whether sample looks like an XML or SVG document once a
// UTF-8 BOM and leading whitespace are skipped.
func IsXMLText(sample []byte) bool {
	i := 0
	if bytes.HasPrefix(sample, []byte{0xef, 0xbb, 0xbf}) {
		i = 3
	}
	for i < len(sample) && sample[i] <= 0x20 {
		i++
	}
	rest := sample[i:]
	if len(rest) == 0 || rest[0] != '<' {
		return false
	}
	rest = rest[1:]
	return bytes.HasPrefix(rest, []byte("?xml")) ||
		bytes.HasPrefix(rest, []byte("svg")) ||
		bytes.HasPrefix(rest, []byte("!DOCTYPE svg"))
}

// LooksBinary applies the control character density heuristic to the first
// SampleSize bytes of sample.
func LooksBinary(sample []byte) bool {
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}
	if len(sample) == 0 {
		return false
	}
	weight := 0
	for _, c := range sample {
		switch {
		case c == 0:
			weight += 2
		case c < 7 || (c > 13 && c < 32):
			weight++
		}
	}
	return float64(weight)/float64(len(sample)) > suspiciousRatio
}

// Classify reports whether sample, the leading bytes of the file at p, is
// binary content.
func Classify(sample []byte, p string) bool {
	if IsBinaryPath(p) {
		if strings.EqualFold(path.Ext(p), ".svg") && IsXMLText(sample) {
			return false
		}
		return true
	}
	if HasMagic(sample) {
		return true
	}
	if IsXMLText(sample) {
		return false
	}
	return LooksBinary(sample)
}
