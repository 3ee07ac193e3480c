// Package ingest turns source documents into embedded, indexed chunks.
//
// The pipeline is: resolve the source text (inline, file or URL) →
// normalize → sentence-aware sliding-window chunking → batched embedding →
// chunk replacement in the store with the vector-index write inside the
// replacement boundary. Re-ingesting the same document ID replaces its
// chunks instead of duplicating them.
package ingest

import (
	"strings"
	"unicode"
)

// Chunker splits normalized text into overlapping windows.
// Windows are measured in runes. Boundaries prefer sentence ends; a single
// sentence longer than Size is hard-split. Output is deterministic for a
// given input and configuration.
type Chunker struct {
	Size    int // max runes per chunk
	Overlap int // runes carried from the end of one chunk into the next
}

// NewChunker creates a Chunker, falling back to 500/80 for non-positive
// values and clamping Overlap below Size so windows always advance.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 80
	}
	if overlap >= size {
		overlap = size / 4
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Chunk splits text into windows. Whitespace is normalized first; empty or
// whitespace-only input yields no chunks.
func (c Chunker) Chunk(text string) []string {
	text = normalizeText(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= c.Size {
		return []string{text}
	}

	var chunks []string
	var current []string // sentences of the chunk being built
	currentLen := 0
	fresh := false // current holds sentences not yet emitted

	flush := func() {
		if currentLen == 0 {
			return
		}
		fresh = false
		chunks = append(chunks, strings.Join(current, " "))
		// Carry trailing sentences into the next window for continuity.
		var carry []string
		carryLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			l := runeLen(current[i])
			if carryLen+l > c.Overlap {
				break
			}
			carry = append([]string{current[i]}, carry...)
			carryLen += l + 1
		}
		current = carry
		currentLen = carryLen
	}

	for _, sentence := range splitSentences(text) {
		l := runeLen(sentence)
		if l > c.Size {
			// Oversized sentence: emit what we have, then hard-split it.
			flush()
			current = nil
			currentLen = 0
			chunks = append(chunks, hardSplit(sentence, c.Size, c.Overlap)...)
			continue
		}
		if currentLen > 0 && currentLen+1+l > c.Size {
			flush()
			// The carried overlap plus a near-window sentence can still
			// exceed Size; shed carry from the front until it fits.
			for currentLen > 0 && currentLen+1+l > c.Size {
				currentLen -= runeLen(current[0]) + 1
				current = current[1:]
			}
		}
		current = append(current, sentence)
		if currentLen > 0 {
			currentLen++
		}
		currentLen += l
		fresh = true
	}
	// A trailing window of pure carried-over overlap is not emitted again.
	if fresh && currentLen > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// normalizeText collapses all whitespace runs to single spaces and trims.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}

// splitSentences splits on sentence-ending punctuation followed by a space.
// The terminator stays with its sentence. Not a linguistic segmenter;
// abbreviations may split early, which only shifts window boundaries.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		// Consume trailing quotes/brackets after the terminator.
		end := i + 1
		for end < len(runes) && (runes[end] == '"' || runes[end] == ')' || runes[end] == '\'') {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		start = end
		i = end - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// hardSplit cuts text into fixed windows with overlap, used when a single
// sentence exceeds the chunk size.
func hardSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
