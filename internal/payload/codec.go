// Package payload embeds machine-readable instructions into text so that they
// render as nothing to a human reader while remaining present in the raw
// string.
package payload

import (
	"strings"
	"unicode/utf8"
)

// Each byte of the UTF-8 encoded payload maps to one invisible rune: ASCII
// bytes to the Unicode tag block, the rest to the variation selectors
// supplement. Both ranges have no glyphs.
const (
	tagBase  = 0xE0000
	tagLast  = tagBase + 0x7F
	vsBase   = 0xE0100
	vsLast   = vsBase + 0x7F
	highBits = 0x80
)

func encodeByte(b byte) rune {
	if b < highBits {
		return rune(tagBase + int(b))
	}
	return rune(vsBase + int(b-highBits))
}

func decodeRune(r rune) (byte, bool) {
	switch {
	case r >= tagBase && r <= tagLast:
		return byte(r - tagBase), true
	case r >= vsBase && r <= vsLast:
		return byte(r-vsBase) + highBits, true
	default:
		return 0, false
	}
}

// IsHidden reports whether r belongs to the invisible alphabet.
func IsHidden(r rune) bool {
	_, ok := decodeRune(r)
	return ok
}

// Encode returns s written in invisible runes.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 4)
	for i := 0; i < len(s); i++ {
		b.WriteRune(encodeByte(s[i]))
	}
	return b.String()
}

// Decode returns the text carried by the hidden runes of s, ignoring every
// visible character.
func Decode(s string) string {
	out := make([]byte, 0, len(s)/4)
	for _, r := range s {
		if b, ok := decodeRune(r); ok {
			out = append(out, b)
		}
	}
	return string(out)
}

type SegmentKind string

const (
	SegmentVisible SegmentKind = "visible"
	SegmentHidden  SegmentKind = "hidden"
)

// Segment is a maximal run of visible or hidden characters. Text is the raw
// slice of the input; Decoded is set for hidden segments.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	Decoded string      `json:"decoded,omitempty"`
}

// Segments splits s into alternating visible and hidden spans. Joining the
// Text of every segment reproduces s byte for byte, including invalid UTF-8.
func Segments(s string) []Segment {
	var segs []Segment
	start := 0
	var cur SegmentKind
	flush := func(end int) {
		if end <= start {
			return
		}
		seg := Segment{Kind: cur, Text: s[start:end]}
		if cur == SegmentHidden {
			seg.Decoded = Decode(seg.Text)
		}
		segs = append(segs, seg)
		start = end
	}

	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		kind := SegmentVisible
		if IsHidden(r) {
			kind = SegmentHidden
		}
		if i == 0 {
			cur = kind
		} else if kind != cur {
			flush(i)
			cur = kind
		}
		i += width
	}
	flush(len(s))
	return segs
}

// Reveal replaces every hidden span with the text it carries.
func Reveal(s string) string {
	var b strings.Builder
	for _, seg := range Segments(s) {
		if seg.Kind == SegmentHidden {
			b.WriteString(seg.Decoded)
		} else {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// Strip returns only what a human sees.
func Strip(s string) string {
	var b strings.Builder
	for _, seg := range Segments(s) {
		if seg.Kind == SegmentVisible {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}
