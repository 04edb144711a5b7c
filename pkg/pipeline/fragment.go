// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"unicode/utf8"

	"github.com/hibiki-im/hibiki-go/pkg/message"
)

// Fragment splits a chain into chains of at most size runes of content each.
// Texts are split on rune boundaries, other elements are never split. Flags
// are dropped. Each fragment holds at least one element.
func Fragment(chain message.Chain, size int) []message.Chain {
	if size <= 0 {
		size = DefaultFragmentSize
	}

	var (
		fragments []message.Chain
		current   []message.Element
		length    int
	)

	flush := func() {
		if len(current) > 0 {
			fragments = append(fragments, message.NewChain(current...))
		}
		current, length = nil, 0
	}

	for _, elem := range chain.Elements() {
		switch elem := elem.(type) {
		case message.Flag:
			continue

		case message.Text:
			text := elem.Text
			for text != "" {
				if length >= size {
					flush()
				}

				n := size - length
				cut := len(text)
				if utf8.RuneCountInString(text) > n {
					cut = runeOffset(text, n)
				}

				current = append(current, message.Text{Text: text[:cut]})
				length += utf8.RuneCountInString(text[:cut])
				text = text[cut:]
			}

		default:
			l := utf8.RuneCountInString(elem.Content())
			if length > 0 && length+l > size {
				flush()
			}
			current = append(current, elem)
			length += l
		}
	}
	flush()

	return fragments
}

// runeOffset returns the byte offset of the n-th rune.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
