package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolvePatternExpandsAllTokenKinds(t *testing.T) {
	at := time.Date(2026, 3, 5, 14, 9, 0, 0, time.UTC)
	flags := map[string]string{"scene": "shot010"}

	out := ResolvePattern(
		"{project_dir}/{flag:scene}_{frame_pad}_{date:YYYYMMDD}_{time:HHmm}.{file_name}",
		flags, 4, "/projects/demo", "out.exr", at,
	)

	assert.Equal(t, "/projects/demo/shot010_4_20260305_1409.out.exr", out)
}

func TestResolvePatternCleansUpEmptyTokenArtifacts(t *testing.T) {
	flags := map[string]string{}
	out := ResolvePattern("{flag:missing}-_{file_name}", flags, 0, "", "render.exr", time.Now())
	assert.Equal(t, "_render.exr", out, "the doubled separator left by the empty token must collapse")
}

func TestCleanupSeparatorsCollapsesDoubleDashAndSlash(t *testing.T) {
	assert.Equal(t, "/a/b", cleanupSeparators("-/a/b"))
	assert.Equal(t, "a-b", cleanupSeparators("a--b"))
	assert.Equal(t, "a_b", cleanupSeparators("a-_b"))
}
