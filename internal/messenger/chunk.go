package messenger

import "strings"

// MaxTextLength is the Send API limit for one text message, in characters.
const MaxTextLength = 2000

// ChunkText splits text at line boundaries so each piece fits limit runes.
// Lines longer than limit are cut hard.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	var chunks []string
	var buf []string
	bufLen := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if chunk := strings.TrimSpace(strings.Join(buf, "\n")); chunk != "" {
			chunks = append(chunks, chunk)
		}
		buf = buf[:0]
		bufLen = 0
	}
	for _, line := range strings.Split(trimmed, "\n") {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		flush()
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	flush()
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	var chunks []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		if segment := strings.TrimSpace(string(runes[start:end])); segment != "" {
			chunks = append(chunks, segment)
		}
	}
	return chunks
}
