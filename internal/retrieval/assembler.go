package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"studyhub/internal/models"
)

const blockSeparator = "\n\n"

// Assemble renders chunks as "[Chunk <index>]\n<content>" blocks joined by a
// blank line, keeping the total within maxChars runes. Blocks are kept whole;
// assembly stops at the first block that does not fit, except that a first
// block larger than the budget is cut down to it. maxChars <= 0 disables the
// cap. The returned indices are the chunks that made it into the text.
func Assemble(chunks []models.Chunk, maxChars int) (string, []int) {
	var (
		b    strings.Builder
		used = make([]int, 0, len(chunks))
		size int
	)
	for _, c := range chunks {
		block := fmt.Sprintf("[Chunk %d]\n%s", c.Index, c.Content)
		blockLen := utf8.RuneCountInString(block)
		sep := 0
		if len(used) > 0 {
			sep = utf8.RuneCountInString(blockSeparator)
		}

		if maxChars > 0 && size+sep+blockLen > maxChars {
			if len(used) == 0 {
				b.WriteString(TruncateChars(block, maxChars))
				used = append(used, c.Index)
			}
			break
		}
		if sep > 0 {
			b.WriteString(blockSeparator)
		}
		b.WriteString(block)
		size += sep + blockLen
		used = append(used, c.Index)
	}
	return b.String(), used
}

// TruncateChars returns the first max runes of text. max <= 0 returns text
// unchanged.
func TruncateChars(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}
