// Package splitter implements message chunking and title/preview
// extraction for the outbound delivery path: paragraph-aware chunking for
// channel size limits, and the markdown-heading-based title/preview used
// when falling back from an oversize publish.
package splitter

import (
	"regexp"
	"strings"
)

const (
	// PublishThreshold is the message length above which an oversize
	// publish is attempted, if a content publisher is configured.
	PublishThreshold = 3000
	// MaxMessageLen is the per-chunk size limit used for chat delivery.
	MaxMessageLen = 4000
	// SummaryPreviewLen bounds the preview text in a publish fallback.
	SummaryPreviewLen = 200

	// boundaryThreshold is the fraction of maxLen a paragraph/line break
	// must clear to be used as a chunk boundary; below it the break is
	// too close to the start and would produce a pathologically tiny
	// leading chunk, so we prefer a later boundary or a hard cut instead.
	boundaryThreshold = 0.3
)

var headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)

// Split divides text into chunks no longer than maxLen runes, preferring
// to break on paragraph boundaries, then line boundaries, then falling
// back to a hard cut. The concatenation of the result equals text modulo
// whitespace at the chunk boundaries.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > maxLen {
		window := runes[:maxLen]
		boundary := lastIndex(window, "\n\n")
		consume := 2
		if boundary <= int(float64(maxLen)*boundaryThreshold) {
			boundary = lastIndex(window, "\n")
			consume = 1
		}
		if boundary <= int(float64(maxLen)*boundaryThreshold) {
			chunk := strings.TrimRight(string(runes[:maxLen]), " \t")
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			runes = runes[maxLen:]
			continue
		}
		chunk := strings.TrimRight(string(runes[:boundary]), " \t\n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[boundary+consume:]
	}
	if len(runes) > 0 {
		if rest := strings.TrimSpace(string(runes)); rest != "" {
			chunks = append(chunks, rest)
		}
	}
	return chunks
}

// lastIndex returns the rune index of the last occurrence of sep in
// runes, or -1 if absent.
func lastIndex(runes []rune, sep string) int {
	sepRunes := []rune(sep)
	for start := len(runes) - len(sepRunes); start >= 0; start-- {
		if string(runes[start:start+len(sepRunes)]) == sep {
			return start
		}
	}
	return -1
}

// ExtractTitle derives a short title for an oversize message: the first
// markdown heading (levels 1-3), else the first non-empty line if it fits
// in 100 chars, else the first 60 chars with an ellipsis.
func ExtractTitle(text string) string {
	if m := headingRe.FindStringSubmatch(text); m != nil {
		title := strings.TrimSpace(m[1])
		if title != "" {
			return truncateRunes(title, 100, "")
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runeLen(line) <= 100 {
			return line
		}
		break
	}
	runes := []rune(text)
	if len(runes) > 60 {
		runes = runes[:60]
	}
	return string(runes) + "..."
}

// ExtractPreview strips leading markdown heading markers and emphasis
// punctuation, then truncates to SummaryPreviewLen runes with an ellipsis.
func ExtractPreview(text string) string {
	stripped := stripMarkdownNoise(text)
	return truncateRunes(stripped, SummaryPreviewLen, "...")
}

func stripMarkdownNoise(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimLeft(line, "# ")
		line = strings.NewReplacer("*", "", "_", "", "~", "", "`", "").Replace(line)
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, limit int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := limit - len([]rune(suffix))
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " \t\n") + suffix
}
