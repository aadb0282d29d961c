// Package ssml splits marked-up text into chunks that fit a speech
// synthesizer's per-request character limit.
package ssml

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Limits bounds a chunk in characters. A chunk is closed at the first legal
// boundary once it reaches Soft and never grows beyond Hard.
type Limits struct {
	Soft int
	Hard int
}

func (l Limits) Validate() error {
	if l.Soft <= 0 || l.Hard <= 0 {
		return fmt.Errorf("split limits must be positive (soft=%d hard=%d)", l.Soft, l.Hard)
	}
	if l.Soft >= l.Hard {
		return fmt.Errorf("soft limit %d must be below hard limit %d", l.Soft, l.Hard)
	}
	return nil
}

// Chunk is one ordered slice of the input. Forced is set when the chunk had
// to be closed somewhere other than a sentence or paragraph boundary.
type Chunk struct {
	Index   int
	Content string
	Forced  bool
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int { return runeLen(c.Content) }

// EmptyInputError reports that splitting produced no chunks.
type EmptyInputError struct {
	InputLength int
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("ssml split produced no parts from %d characters of input", e.InputLength)
}

var ErrLimitTooSmall = errors.New("hard limit leaves no room for content inside the speak wrapper")

// Split breaks text into ordered chunks within limits. A <speak> wrapper is
// removed before splitting and re-applied to every chunk.
func Split(text string, limits Limits) ([]Chunk, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	head, inner, tail := UnwrapSpeak(text)
	overhead := runeLen(head) + runeLen(tail)
	hard := limits.Hard - overhead
	if hard < 1 {
		return nil, ErrLimitTooSmall
	}
	soft := limits.Soft - overhead
	if soft < 1 {
		soft = 1
	}

	pieces := splitContent(inner, hard, soft)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		content := strings.TrimSpace(p.text)
		if content == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: head + content + tail,
			Forced:  p.forced,
		})
	}
	if len(chunks) == 0 {
		return nil, &EmptyInputError{InputLength: runeLen(text)}
	}
	return chunks, nil
}

type piece struct {
	text   string
	n      int
	forced bool
}

type unit struct {
	text  string // including leading whitespace
	lead  string
	open  string // set for structural elements
	inner string
	close string
}

func splitContent(s string, hard, soft int) []piece {
	var pieces []piece
	for _, u := range segment(s) {
		if n := runeLen(u.text); n <= hard {
			pieces = append(pieces, piece{text: u.text, n: n})
			continue
		}
		pieces = append(pieces, breakUnit(u, hard)...)
	}
	return pack(pieces, hard, soft)
}

// pack greedily joins pieces, closing a chunk when the next piece would
// overflow hard or once the accumulated size reaches soft.
func pack(pieces []piece, hard, soft int) []piece {
	var out []piece
	var cur strings.Builder
	curN := 0
	curForced := false
	flush := func() {
		if curN == 0 {
			return
		}
		out = append(out, piece{text: cur.String(), n: curN, forced: curForced})
		cur.Reset()
		curN = 0
		curForced = false
	}
	for _, p := range pieces {
		if curN > 0 && curN+p.n > hard {
			flush()
		}
		cur.WriteString(p.text)
		curN += p.n
		curForced = curForced || p.forced
		if curN >= soft {
			flush()
		}
	}
	flush()
	return out
}

// breakUnit splits a unit larger than hard. Structural elements are split
// inside and every part re-wrapped in the element's tags; anything else
// falls back to word and then character boundaries.
func breakUnit(u unit, hard int) []piece {
	if u.open != "" {
		budget := hard - runeLen(u.open) - runeLen(u.close)
		if budget > 0 {
			inner := splitContent(u.inner, budget, budget)
			out := make([]piece, 0, len(inner))
			for i, p := range inner {
				body := strings.TrimSpace(p.text)
				if body == "" {
					continue
				}
				text := u.open + body + u.close
				if i == 0 && runeLen(u.lead)+runeLen(text) <= hard {
					text = u.lead + text
				}
				out = append(out, piece{text: text, n: runeLen(text), forced: p.forced})
			}
			return out
		}
	}
	return splitWords(u.text, hard)
}

func splitWords(s string, hard int) []piece {
	var out []piece
	var cur strings.Builder
	curN := 0
	flush := func() {
		if curN == 0 {
			return
		}
		out = append(out, piece{text: cur.String(), n: curN, forced: true})
		cur.Reset()
		curN = 0
	}
	for _, w := range words(s) {
		n := runeLen(w)
		if curN > 0 && curN+n > hard {
			flush()
		}
		if n > hard {
			if parts := breakInline(w, hard); parts != nil {
				out = append(out, parts...)
				continue
			}
			for _, part := range splitRunes(w, hard) {
				out = append(out, piece{text: part, n: runeLen(part), forced: true})
			}
			continue
		}
		cur.WriteString(w)
		curN += n
	}
	flush()
	return out
}

// breakInline splits a run holding an inline element that is larger than
// hard. The element's content is broken at words and every part re-wrapped
// in the element's tags. It returns nil when w has no complete element or
// the tags alone leave no room for content.
func breakInline(w string, hard int) []piece {
	items := lex(w)
	for i, it := range items {
		if it.kind != itemOpen {
			continue
		}
		end := matchClose(items, i)
		if end < 0 || items[end].kind != itemClose {
			return nil
		}
		u := unit{open: it.raw, inner: joinRaw(items[i+1 : end]), close: items[end].raw}
		if hard-runeLen(u.open)-runeLen(u.close) <= 0 {
			return nil
		}
		var out []piece
		if before := joinRaw(items[:i]); before != "" {
			out = append(out, splitWords(before, hard)...)
		}
		out = append(out, breakUnit(u, hard)...)
		if after := joinRaw(items[end+1:]); after != "" {
			out = append(out, splitWords(after, hard)...)
		}
		return out
	}
	return nil
}

// words splits s at whitespace in running text outside of any element,
// keeping the whitespace attached to the following word.
func words(s string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	prevSpace := false
	for _, it := range lex(s) {
		switch it.kind {
		case itemOpen:
			depth++
		case itemClose:
			if depth > 0 {
				depth--
			}
		}
		if it.kind != itemText || depth > 0 {
			cur.WriteString(it.raw)
			prevSpace = false
			continue
		}
		for _, r := range it.raw {
			space := unicode.IsSpace(r)
			if space && !prevSpace && cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			cur.WriteRune(r)
			prevSpace = space
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitRunes cuts s into parts of at most n characters, backing off to
// avoid cutting through a tag when possible. A tag starting at the front of
// a part with no '>' inside it is longer than n and cannot fit any chunk, so
// it is cut like text.
func splitRunes(s string, n int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		cut := n
		if cut >= len(runes) {
			out = append(out, string(runes))
			break
		}
		if lt := lastOpenTag(runes[:cut]); lt > 0 {
			cut = lt
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return out
}

// lastOpenTag returns the index of a '<' in r that has no matching '>'
// after it, or -1.
func lastOpenTag(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		switch r[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}
