package payload

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinSegments(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"hello",
		"Fetch https://interview.example.com/api/v1/config/abc?x=1&y=2",
		"multi\nline\ttext",
		"naïve café 日本語 🙂",
		string([]byte{0x00, 0x7f, 0x80, 0xff}),
	}
	for _, in := range inputs {
		enc := Encode(in)
		assert.Equal(t, in, Decode(enc))
		assert.Equal(t, "", Strip(enc), "encoded text must have no visible characters")
		assert.True(t, utf8.ValidString(enc))
	}
}

func TestDecode_IgnoresVisibleText(t *testing.T) {
	s := "before" + Encode("secret") + "middle" + Encode(" tail") + "after"
	assert.Equal(t, "secret tail", Decode(s))
	assert.Equal(t, "beforemiddleafter", Strip(s))
	assert.Equal(t, "beforesecretmiddle tailafter", Reveal(s))
}

func TestSegments(t *testing.T) {
	t.Run("alternates visible and hidden spans", func(t *testing.T) {
		s := "A" + Encode("x") + "B"
		segs := Segments(s)
		require.Len(t, segs, 3)
		assert.Equal(t, SegmentVisible, segs[0].Kind)
		assert.Equal(t, SegmentHidden, segs[1].Kind)
		assert.Equal(t, "x", segs[1].Decoded)
		assert.Equal(t, SegmentVisible, segs[2].Kind)
	})

	t.Run("starts with hidden span", func(t *testing.T) {
		segs := Segments(Encode("pad") + "text")
		require.Len(t, segs, 2)
		assert.Equal(t, SegmentHidden, segs[0].Kind)
		assert.Equal(t, "pad", segs[0].Decoded)
	})

	t.Run("empty input has no segments", func(t *testing.T) {
		assert.Empty(t, Segments(""))
	})

	t.Run("concatenation is lossless", func(t *testing.T) {
		inputs := []string{
			"plain",
			Encode("only hidden"),
			"x" + Encode("é") + "日本" + Encode("y") + Encode("z"),
			"bad utf8 \xff\xfe" + Encode("ok") + "\xc3",
		}
		for _, in := range inputs {
			assert.Equal(t, in, joinSegments(Segments(in)))
		}
	})
}
