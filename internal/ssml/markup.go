package ssml

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type itemKind int

const (
	itemText itemKind = iota
	itemOpen
	itemClose
	itemSelfClose
	itemOther // comments, processing instructions, declarations
)

type item struct {
	kind itemKind
	name string
	raw  string
}

// structural elements mark legal split boundaries and may be re-wrapped when
// their content has to be broken up. Everything else is kept inline.
var structural = map[string]bool{
	"p":                true,
	"paragraph":        true,
	"s":                true,
	"sentence":         true,
	"prosody":          true,
	"voice":            true,
	"lang":             true,
	"par":              true,
	"seq":              true,
	"amazon:domain":    true,
	"amazon:effect":    true,
	"mstts:express-as": true,
	"google:style":     true,
}

func lex(s string) []item {
	var items []item
	for len(s) > 0 {
		lt := strings.IndexByte(s, '<')
		if lt < 0 {
			items = append(items, item{kind: itemText, raw: s})
			break
		}
		if lt > 0 {
			items = append(items, item{kind: itemText, raw: s[:lt]})
			s = s[lt:]
		}
		gt := strings.IndexByte(s, '>')
		if gt < 0 {
			// unterminated tag, keep the rest as plain text
			items = append(items, item{kind: itemText, raw: s})
			break
		}
		raw := s[:gt+1]
		items = append(items, classify(raw))
		s = s[gt+1:]
	}
	return items
}

func classify(raw string) item {
	body := strings.TrimSpace(raw[1 : len(raw)-1])
	switch {
	case strings.HasPrefix(body, "!"), strings.HasPrefix(body, "?"):
		return item{kind: itemOther, raw: raw}
	case strings.HasPrefix(body, "/"):
		return item{kind: itemClose, name: tagName(body[1:]), raw: raw}
	case strings.HasSuffix(body, "/"):
		return item{kind: itemSelfClose, name: tagName(strings.TrimSuffix(body, "/")), raw: raw}
	default:
		return item{kind: itemOpen, name: tagName(body), raw: raw}
	}
}

func tagName(body string) string {
	body = strings.TrimSpace(body)
	end := strings.IndexFunc(body, unicode.IsSpace)
	if end < 0 {
		end = len(body)
	}
	return strings.ToLower(body[:end])
}

// matchClose returns the index of the item closing items[open], or -1.
func matchClose(items []item, open int) int {
	depth := 0
	for i := open; i < len(items); i++ {
		switch items[i].kind {
		case itemOpen:
			depth++
		case itemClose:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func joinRaw(items []item) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.raw)
	}
	return b.String()
}

// UnwrapSpeak separates an optional XML prolog and <speak> wrapper from the
// content so the content can be split and every part re-wrapped.
func UnwrapSpeak(text string) (head, inner, tail string) {
	trimmed := strings.TrimSpace(text)
	prolog := ""
	if strings.HasPrefix(trimmed, "<?") {
		if end := strings.Index(trimmed, "?>"); end >= 0 {
			prolog = trimmed[:end+2]
			trimmed = strings.TrimSpace(trimmed[end+2:])
		}
	}
	if !strings.HasPrefix(trimmed, "<speak") || !strings.HasSuffix(trimmed, "</speak>") {
		return "", text, ""
	}
	gt := strings.IndexByte(trimmed, '>')
	if gt < 0 || tagName(trimmed[1:gt]) != "speak" {
		return "", text, ""
	}
	if strings.HasSuffix(trimmed[:gt], "/") {
		return "", "", ""
	}
	head = prolog + trimmed[:gt+1]
	inner = trimmed[gt+1 : len(trimmed)-len("</speak>")]
	return head, inner, "</speak>"
}

// StripMarkup removes every tag from s, leaving the spoken text.
func StripMarkup(s string) string {
	var b strings.Builder
	for _, it := range lex(s) {
		if it.kind == itemText {
			b.WriteString(it.raw)
		}
	}
	return b.String()
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
