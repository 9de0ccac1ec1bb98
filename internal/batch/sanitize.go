package batch

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

const maxBaseRunes = 50

var (
	unsafeRe     = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)
	underscoreRe = regexp.MustCompile(`_+`)
)

// Sanitize turns an arbitrary file name into a filesystem-safe working
// name. base keeps the readable part plus an 8-hex md5 fragment of the
// full original name; tempName is base with the original extension.
func Sanitize(filename string) (tempName, base string) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	sum := md5.Sum([]byte(filename))
	hash := hex.EncodeToString(sum[:])[:8]

	safe := unsafeRe.ReplaceAllString(stem, "_")
	safe = underscoreRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		safe = "audio"
	}
	if r := []rune(safe); len(r) > maxBaseRunes {
		safe = string(r[:maxBaseRunes])
	}

	base = safe + "_" + hash
	return base + ext, base
}
