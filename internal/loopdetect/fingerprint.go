// Package loopdetect fingerprints tool calls and detects the consecutive
// repeat patterns ("doom loops"): an exact
// tier on the full call, a fuzzy tier on a canonicalized subset of
// arguments, plus summary-loop, test-fix-cycle, and bash-failure-cascade
// detection.
package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clipperhouse/uax29/v2/words"
)

// primaryArgKeys is the ordered subset of argument keys that contribute to
// a tool call's fingerprint.
var primaryArgKeys = []string{
	"path", "file_path", "command", "pattern", "query", "url", "content",
	"filename", "offset", "limit",
}

// fileReadCommand matches bash invocations that only inspect a file, with
// no pipes or redirects, so equivalent inspections collapse onto one
// fingerprint ("bash:file_read:<path>") instead of fragmenting across
// cat/head/tail/etc.
var fileReadCommand = regexp.MustCompile(
	`^\s*(cat|head|tail|wc|less|more|file|stat|md5sum|sha256sum)\s+(\S+)\s*$`,
)

// Fingerprint canonicalizes a tool call into the identifier loop
// detection keys off.
func Fingerprint(tool string, args map[string]any) string {
	if tool == "bash" {
		if cmd, ok := args["command"].(string); ok {
			if !strings.ContainsAny(cmd, "|><&;") {
				if m := fileReadCommand.FindStringSubmatch(cmd); m != nil {
					return fmt.Sprintf("bash:file_read:%s", m[2])
				}
			}
		}
	}

	primary := make(map[string]any, len(primaryArgKeys))
	for _, k := range primaryArgKeys {
		if v, ok := args[k]; ok {
			primary[k] = v
		}
	}
	return tool + ":" + canonicalJSON(primary)
}

// ExactKey is the full-argument canonical key used by the exact tier —
// every argument participates, not only the primary subset.
func ExactKey(tool string, args map[string]any) string {
	return tool + ":" + canonicalJSON(args)
}

// canonicalJSON produces a stable, key-sorted JSON string so that
// fingerprint(tool, args) == fingerprint(tool, reorder(args)) for any
// key-reordering of args. encoding/json already sorts map keys on
// marshal, which is sufficient — this helper exists mainly to centralize
// the (tool, args) -> string step.
func canonicalJSON(v map[string]any) string {
	b, err := json.Marshal(sortedMap(v))
	if err != nil {
		// args must always be JSON-serializable; fall back to a
		// best-effort representation rather than panic.
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// sortedMap rewrites v using only JSON-marshalable primitives, in key
// order, so nested maps are canonicalized too.
func sortedMap(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := v[k].(type) {
		case map[string]any:
			out[k] = sortedMap(val)
		default:
			out[k] = val
		}
	}
	return out
}

// FuzzyTextKey tokenizes free text (for example a query, pattern or
// content value) with a Unicode word segmenter and returns a short hash
// of the token sequence. Tokens are lower-cased and joined in the
// order they occur; punctuation and whitespace boundaries are dropped.
// Fingerprint does not call it: the fuzzy tier keys on the raw
// primary-argument values.
func FuzzyTextKey(text string) string {
	var tokens []string
	seg := words.NewSegmenter([]byte(text))
	for seg.Next() {
		tok := strings.ToLower(strings.TrimSpace(string(seg.Value())))
		if tok == "" || !isWordlike(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	joined := strings.Join(tokens, " ")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:8])
}

func isWordlike(tok string) bool {
	for _, r := range tok {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
