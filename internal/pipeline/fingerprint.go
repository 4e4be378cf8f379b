package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes a stable content-addressed key over
// (task, template version, tier, canonicalized inputs). Two inputs that
// differ only in whitespace or parameter key order collide by construction:
// text is trimmed and whitespace-collapsed, and parameters are sorted by key
// before hashing.
func Fingerprint(task TaskKind, templateVersion string, tier Tier, text string, params map[string]string) PromptFingerprint {
	h := sha256.New()
	h.Write([]byte(string(task)))
	h.Write([]byte{0})
	h.Write([]byte(templateVersion))
	h.Write([]byte{0})
	h.Write([]byte(string(tier)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalizeText(text)))
	h.Write([]byte{0})

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte("="))
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}

	return PromptFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// canonicalizeText trims surrounding whitespace and collapses internal
// runs of whitespace to a single space, so whitespace-only differences
// never produce distinct fingerprints.
func canonicalizeText(text string) string {
	fields := strings.Fields(text)
	return strings.Join(fields, " ")
}
