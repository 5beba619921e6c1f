// Package textsplit turns extracted document text into bounded, overlapping
// chunks suitable for independent embedding and retrieval.
package textsplit

import (
	"regexp"
	"strings"
)

const (
	StrategyRecursive = "recursive"
	StrategySemantic  = "semantic"
)

// Separator priority: paragraph, line, sentence, word, character.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Split chunks text with the requested strategy. Unknown strategies fall back
// to recursive splitting.
func Split(text, strategy string, chunkSize, chunkOverlap int) []string {
	if strategy == StrategySemantic {
		return Semantic(text, chunkSize, chunkOverlap)
	}
	return Recursive(text, chunkSize, chunkOverlap)
}

// Recursive splits text by a priority-ordered separator list, keeping each
// chunk at most chunkSize runes with roughly chunkOverlap runes shared
// between consecutive chunks.
func Recursive(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	pieces := splitBySeparators(text, chunkSize, defaultSeparators)
	return mergePieces(pieces, chunkSize, chunkOverlap)
}

var sentenceEnd = regexp.MustCompile(`([.!?。！？])(\s+|$)`)

// Semantic splits at sentence boundaries, then packs sentences into chunks.
// Text without recognizable sentence structure falls back to recursive
// splitting.
func Semantic(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}

	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return Recursive(text, chunkSize, chunkOverlap)
	}
	// Sentences longer than a chunk still need recursive treatment.
	var pieces []string
	for _, s := range sentences {
		if runeLen(s) > chunkSize {
			pieces = append(pieces, splitBySeparators(s, chunkSize, defaultSeparators)...)
		} else {
			pieces = append(pieces, s)
		}
	}
	return mergePieces(pieces, chunkSize, chunkOverlap)
}

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitBySeparators yields pieces no longer than chunkSize, trying separators
// in priority order and descending only for pieces that are still too long.
func splitBySeparators(text string, chunkSize int, separators []string) []string {
	if runeLen(text) <= chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, chunkSize)
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" {
		return hardSplit(text, chunkSize)
	}

	parts := strings.SplitAfter(text, sep)
	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if runeLen(part) > chunkSize {
			out = append(out, splitBySeparators(part, chunkSize, rest)...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

func hardSplit(text string, chunkSize int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergePieces packs pieces into chunks of at most chunkSize runes, carrying a
// tail of up to chunkOverlap runes into the next chunk for continuity.
func mergePieces(pieces []string, chunkSize, chunkOverlap int) []string {
	var chunks []string
	var window []string
	windowLen := 0

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		pieceLen := runeLen(piece)
		if windowLen+pieceLen > chunkSize && windowLen > 0 {
			flush()
			// Drop leading pieces until the retained tail fits the overlap
			// budget and leaves room for the incoming piece.
			for windowLen > chunkOverlap || (windowLen+pieceLen > chunkSize && windowLen > 0) {
				windowLen -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		windowLen += pieceLen
	}
	if windowLen > 0 {
		flush()
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}
