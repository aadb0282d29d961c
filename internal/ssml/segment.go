package ssml

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// segment breaks one level of markup into units that end on legal split
// boundaries: after a structural element or after a sentence terminator in
// running text. Inline elements stay attached to the text around them.
func segment(s string) []unit {
	items := lex(s)
	var units []unit
	var cur strings.Builder

	emit := func() {
		text := cur.String()
		if strings.TrimSpace(text) == "" {
			return // keep whitespace as the lead of the next unit
		}
		units = append(units, unit{text: text})
		cur.Reset()
	}

	for i := 0; i < len(items); i++ {
		it := items[i]
		switch it.kind {
		case itemText:
			rest := it.raw
			for {
				cut := sentenceEnd(rest)
				if cut < 0 {
					cur.WriteString(rest)
					break
				}
				cur.WriteString(rest[:cut])
				emit()
				rest = rest[cut:]
			}
		case itemOpen:
			end := matchClose(items, i)
			if end < 0 {
				end = len(items) - 1
			}
			raw := joinRaw(items[i : end+1])
			if !structural[it.name] {
				cur.WriteString(raw)
				i = end
				continue
			}
			lead := ""
			if text := cur.String(); strings.TrimSpace(text) == "" {
				lead = text
				cur.Reset()
			} else {
				emit()
			}
			u := unit{text: lead + raw, lead: lead, open: it.raw}
			if items[end].kind == itemClose && end > i {
				u.close = items[end].raw
				u.inner = joinRaw(items[i+1 : end])
			} else {
				u.inner = joinRaw(items[i+1 : end+1])
			}
			units = append(units, u)
			i = end
		default:
			cur.WriteString(it.raw)
		}
	}
	if text := cur.String(); strings.TrimSpace(text) != "" {
		units = append(units, unit{text: text})
	} else if len(units) > 0 && text != "" {
		units[len(units)-1].text += text
	}
	return units
}

// sentenceEnd returns the byte offset just past the first sentence
// terminator that is followed by whitespace, or the offset of the first
// newline, whichever comes first. It returns -1 when neither exists.
func sentenceEnd(s string) int {
	for i, r := range s {
		if r == '\n' && i > 0 {
			return i
		}
		if !isTerminator(r) {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next >= len(s) {
			return -1
		}
		nr, _ := utf8.DecodeRuneInString(s[next:])
		if unicode.IsSpace(nr) {
			return next
		}
	}
	return -1
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}
