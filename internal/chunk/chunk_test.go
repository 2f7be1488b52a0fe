package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRespectsMaxLines(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "x = 1")
	}
	content := strings.Join(lines, "\n")
	chunks := Split("f.py", []byte(content), 10)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.EndLine-c.StartLine+1, 10)
	}
}

func TestSplitPrefersBlankLineBoundary(t *testing.T) {
	content := strings.Repeat("a\n", 5) + "\n" + strings.Repeat("b\n", 5)
	chunks := Split("f.txt", []byte(content), 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)
}

func TestSplitKeepsBracketsBalanced(t *testing.T) {
	content := "func f() {\n\n  x := 1\n\n}\n"
	chunks := Split("f.go", []byte(content), 100)
	// The blank line inside the braces is at non-zero depth and must not
	// be used as a split boundary even though it is shorter than maxLines.
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestExtractFindsFunctionsAndImports(t *testing.T) {
	c := &Chunk{
		FilePath:  "main.go",
		StartLine: 10,
		Content:   "import \"fmt\"\n\nfunc compute_total() int {\n\treturn 0\n}",
	}
	symbols := Extract("main.go", c)
	var foundFunc, foundImport bool
	for _, s := range symbols {
		if s.Kind == KindFunction && s.Name == "compute_total" {
			foundFunc = true
			assert.Equal(t, 12, s.Line)
		}
		if s.Kind == KindImport {
			foundImport = true
		}
	}
	assert.True(t, foundFunc)
	assert.True(t, foundImport)
}
