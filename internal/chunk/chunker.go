package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Split divides content into chunks following the policy in §4.4:
// prefer splitting at blank-line runs, keep bracket-balanced regions
// intact, and enforce maxLines by forcing a split when no safe boundary
// exists. maxLines <= 0 uses MaxChunkLines.
func Split(filePath string, content []byte, maxLines int) []*Chunk {
	if maxLines <= 0 {
		maxLines = MaxChunkLines
	}
	lines := splitLines(content)
	n := len(lines)
	if n == 0 {
		return nil
	}

	depth := make([]int, n)
	running := 0
	for i, line := range lines {
		running += bracketDelta(line)
		depth[i] = running
	}
	isBlank := func(i int) bool { return strings.TrimSpace(lines[i]) == "" }

	var chunks []*Chunk
	start := 0
	for start < n && isBlank(start) {
		start++
	}

	for start < n {
		lastSafeBoundary := -1
		end := start
		i := start
		for ; i < n; i++ {
			if i > start && isBlank(i) && depth[i-1] == 0 {
				lastSafeBoundary = i
				break
			}
			if i-start+1 > maxLines {
				break
			}
			end = i
		}

		if i >= n {
			end = n - 1
			for end > start && isBlank(end) {
				end--
			}
			chunks = append(chunks, makeChunk(filePath, lines, start, end))
			break
		}

		if lastSafeBoundary > start {
			boundaryEnd := lastSafeBoundary - 1
			for boundaryEnd > start && isBlank(boundaryEnd) {
				boundaryEnd--
			}
			chunks = append(chunks, makeChunk(filePath, lines, start, boundaryEnd))
			start = lastSafeBoundary
		} else {
			forcedEnd := start + maxLines - 1
			chunks = append(chunks, makeChunk(filePath, lines, start, forcedEnd))
			start = forcedEnd + 1
		}

		for start < n && isBlank(start) {
			start++
		}
	}

	return chunks
}

func makeChunk(filePath string, lines []string, start, end int) *Chunk {
	body := strings.Join(lines[start:end+1], "\n")
	return &Chunk{
		FilePath:    filePath,
		StartLine:   start + 1,
		EndLine:     end + 1,
		ContentHash: shortHash(body),
		Content:     body,
	}
}

func splitLines(content []byte) []string {
	text := string(content)
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// bracketDelta returns the net change in bracket depth contributed by a
// line, skipping characters inside single-line quoted literals. This is a
// heuristic, not a lexer: multi-line strings are not tracked.
func bracketDelta(line string) int {
	delta := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '{', '[':
			delta++
		case ')', '}', ']':
			delta--
		}
	}
	return delta
}

// shortHash returns a 16-hex-character content hash.
func shortHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
