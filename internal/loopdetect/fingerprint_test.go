package loopdetect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprint_KeyReorderingIsStable(t *testing.T) {
	a := map[string]any{"path": "/x.ts", "offset": 0, "limit": 100}
	b := map[string]any{"limit": 100, "offset": 0, "path": "/x.ts"}

	require.Equal(t, Fingerprint("read_file", a), Fingerprint("read_file", b))
}

func TestFingerprint_BashFileReadNormalizes(t *testing.T) {
	fp1 := Fingerprint("bash", map[string]any{"command": "cat /tmp/foo.txt"})
	fp2 := Fingerprint("bash", map[string]any{"command": "head /tmp/foo.txt"})

	require.Equal(t, fp1, fp2, "cat and head on the same path are equivalent inspections and collapse to one fingerprint")
	require.Contains(t, fp1, "bash:file_read:/tmp/foo.txt")
}

func TestFingerprint_BashWithPipeNotNormalized(t *testing.T) {
	fp := Fingerprint("bash", map[string]any{"command": "cat /tmp/foo.txt | wc -l"})
	require.NotContains(t, fp, "bash:file_read:")
}

func TestExactKey_DiffersOnNonPrimaryArgs(t *testing.T) {
	a := map[string]any{"path": "/x.ts", "extra": "1"}
	b := map[string]any{"path": "/x.ts", "extra": "2"}

	require.NotEqual(t, ExactKey("read_file", a), ExactKey("read_file", b))
	require.Equal(t, Fingerprint("read_file", a), Fingerprint("read_file", b), "fuzzy key ignores non-primary args")
}
