// Package filex derives storage-safe object names from untrusted,
// caller-supplied file names.
package filex

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// defaultBaseName replaces a base name that sanitizes to nothing.
	defaultBaseName = "upload"
	// maxBaseRunes bounds the kept base name.
	maxBaseRunes = 128
	// maxExtRunes bounds each kept extension; only the last maxExtensions survive.
	maxExtRunes   = 16
	maxExtensions = 4
	// MaxNameBytes bounds a prepared name, leaving the rest of S3's 1024-byte
	// key limit to the upload prefix.
	MaxNameBytes = 512
	// tokenBytes of randomness encode to exactly 8 base32 characters.
	tokenBytes = 5
)

// UploadPrefix returns the key prefix owning every object of one upload.
func UploadPrefix(orgID, uploadID string) string {
	return fmt.Sprintf("%s/uploads/%s/", orgID, uploadID)
}

// StorageName returns prefix joined with a sanitized, randomized form of
// filename. See PrepareFilename.
func StorageName(prefix, filename string) string {
	return prefix + PrepareFilename(filename)
}

// PrepareFilename turns an arbitrary file name into one that is safe as the
// last segment of an object key and unique among repeated uploads of the same
// name.
//
// Directory components are dropped, unsafe characters removed, and a short
// random token is appended to the base name, ahead of all extensions. The
// result never exceeds MaxNameBytes; long extensions are cut and only the
// last few are kept:
//
//	"../x/My Crawl.warc.gz" -> "My_Crawl-k3j9a0qz.warc.gz"
//
// It never fails; names with nothing usable left become "upload-<token>".
func PrepareFilename(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = sanitize(strings.TrimSpace(name))

	segments := strings.Split(name, ".")

	var exts []string
	for _, ext := range segments[1:] {
		if ext != "" {
			exts = append(exts, truncateRunes(ext, maxExtRunes))
		}
	}
	if len(exts) > maxExtensions {
		exts = exts[len(exts)-maxExtensions:]
	}

	token := "-" + randomToken()
	extBytes := 0
	for _, ext := range exts {
		extBytes += len(ext) + 1
	}

	base := truncateBytes(truncateRunes(segments[0], maxBaseRunes), MaxNameBytes-len(token)-extBytes)
	if base == "" {
		base = defaultBaseName
	}

	parts := append([]string{base + token}, exts...)
	return strings.Join(parts, ".")
}

// sanitize keeps letters, digits and a small set of punctuation. Whitespace
// becomes '_'; everything else, including path separators, control and
// reserved characters, is dropped.
func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == unicode.ReplacementChar:
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(".-_()+", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// randomToken returns 8 lower-case base32 characters from crypto/rand.
func randomToken() string {
	b := make([]byte, tokenBytes)
	// crypto/rand.Read does not return errors since Go 1.24.
	_, _ = rand.Read(b)
	return strings.ToLower(base32.StdEncoding.EncodeToString(b))
}
