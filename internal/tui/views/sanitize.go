package views

import (
	"strings"

	"github.com/rivo/tview"
)

// clean makes untrusted text safe to print: control characters become
// spaces, joiners and modifiers that tcell renders at the wrong width are
// dropped, and tview color tags are escaped.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		case dropped(r):
		default:
			b.WriteRune(r)
		}
	}
	return tview.Escape(b.String())
}

func dropped(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	}
	return false
}

// oneLine flattens s for table cells.
func oneLine(s string) string {
	return strings.ReplaceAll(clean(s), "\n", " ")
}
