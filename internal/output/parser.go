// Package output splits raw task output into the per-subsection line
// groups consumed by the comparators.
package output

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Delimiter is the full-line marker the task harness emits between
// subsections.
const Delimiter = "###SUBSECTION###"

// Block is the captured output of one subsection.
type Block struct {
	Lines []string
}

// Parse interprets raw bytes as UTF-8 (invalid sequences replaced) and
// splits them into subsection blocks at each delimiter line. Anything
// before the first delimiter is the harness banner and is discarded.
// Trailing empty blocks are kept; they score zero rather than erroring.
func Parse(raw []byte) []Block {
	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var blocks []Block
	var current *Block
	for _, line := range strings.Split(text, "\n") {
		if line == Delimiter {
			blocks = append(blocks, Block{})
			current = &blocks[len(blocks)-1]
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, line)
		}
	}
	for i := range blocks {
		blocks[i].Lines = trimTrailingEmpty(blocks[i].Lines)
	}
	return blocks
}

// Align reconciles the parsed block count with the allocator's
// subsection count for the task. Missing trailing blocks are synthesized
// empty; surplus blocks are dropped and reported in the returned
// diagnostic, which is empty when nothing was dropped.
func Align(blocks []Block, want int) ([]Block, string) {
	if want < 0 {
		want = 0
	}
	diagnostic := ""
	if len(blocks) > want {
		diagnostic = fmt.Sprintf("output contained %d subsection blocks, expected %d; surplus discarded",
			len(blocks), want)
		blocks = blocks[:want]
	}
	for len(blocks) < want {
		blocks = append(blocks, Block{})
	}
	return blocks, diagnostic
}

func trimTrailingEmpty(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}
