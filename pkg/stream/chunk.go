package stream

import (
	"fmt"
	"unicode/utf8"
)

// Chunk splits text into pieces of at most size runes. Concatenating the
// pieces gives back text. Empty text yields no chunks; size < 1 is treated as 1.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}

	chunks := make([]string, 0, (utf8.RuneCountInString(text)+size-1)/size)
	start, runes := 0, 0
	for i := range text {
		if runes == size {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	return append(chunks, text[start:])
}

// Progress formats the position of chunk i (0-based) out of n.
func Progress(i, n int) string {
	return fmt.Sprintf("%d/%d", i+1, n)
}
