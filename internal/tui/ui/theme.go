// Package ui holds widgets shared by several views.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme is the color set of every view.
type Theme struct {
	Bg          tcell.Color
	Fg          tcell.Color
	Muted       tcell.Color
	Border      tcell.Color
	Title       tcell.Color
	HeaderFg    tcell.Color
	CursorFg    tcell.Color
	CursorBg    tcell.Color
	Outgoing    tcell.Color
	Incoming    tcell.Color
	Reaction    tcell.Color
	Key         tcell.Color
	Ringing     tcell.Color
	InCall      tcell.Color
	FlashInfo   tcell.Color
	FlashWarn   tcell.Color
	FlashErr    tcell.Color
	StatusBarBg tcell.Color
}

// DefaultTheme is a dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		Bg:          tcell.ColorBlack,
		Fg:          tcell.ColorCadetBlue,
		Muted:       tcell.ColorGray,
		Border:      tcell.ColorDodgerBlue,
		Title:       tcell.ColorFuchsia,
		HeaderFg:    tcell.ColorWhite,
		CursorFg:    tcell.ColorBlack,
		CursorBg:    tcell.ColorAqua,
		Outgoing:    tcell.ColorLightSkyBlue,
		Incoming:    tcell.ColorPapayaWhip,
		Reaction:    tcell.ColorGold,
		Key:         tcell.ColorDodgerBlue,
		Ringing:     tcell.ColorOrange,
		InCall:      tcell.ColorLimeGreen,
		FlashInfo:   tcell.ColorNavajoWhite,
		FlashWarn:   tcell.ColorOrange,
		FlashErr:    tcell.ColorOrangeRed,
		StatusBarBg: tcell.ColorDarkSlateGray,
	}
}

// Tag renders c as a tview color tag value.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
