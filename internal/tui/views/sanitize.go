package views

import "strings"

// sanitize drops codepoints tcell renders as stray cells: skin tone
// modifiers, zero width joiners and variation selectors. A thumbs-up with a
// skin tone then renders as a plain two-cell thumbs-up.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF, r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
			return -1
		}
		return r
	}, s)
}

// escape sanitizes s and neutralizes tview color tags in user text.
func escape(s string) string {
	return strings.ReplaceAll(sanitize(s), "[", "[[]")
}
