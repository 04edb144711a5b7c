// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package message models outgoing messages as immutable chains of elements.
package message

import (
	"strings"
	"unicode/utf8"
)

// Chain is an immutable sequence of Elements. The zero value is an empty Chain.
type Chain struct {
	elems []Element
}

// NewChain of the given Elements.
func NewChain(elems ...Element) Chain {
	return Chain{elems: append([]Element(nil), elems...)}
}

// PlainText creates a Chain of a single Text.
func PlainText(text string) Chain {
	return NewChain(Text{Text: text})
}

// Elements returns a copy of the Chain's Elements.
func (c Chain) Elements() []Element {
	return append([]Element(nil), c.elems...)
}

// Len is the number of Elements.
func (c Chain) Len() int {
	return len(c.elems)
}

// IsEmpty reports whether the Chain has no Element with content. Flags and
// empty Texts carry none.
func (c Chain) IsEmpty() bool {
	for _, elem := range c.elems {
		switch elem := elem.(type) {
		case Flag:
		case Text:
			if elem.Text != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// With returns a new Chain with the Elements appended.
func (c Chain) With(elems ...Element) Chain {
	n := make([]Element, 0, len(c.elems)+len(elems))
	n = append(n, c.elems...)
	return Chain{elems: append(n, elems...)}
}

// Without returns a new Chain lacking all Elements matching drop.
func (c Chain) Without(drop func(Element) bool) Chain {
	var n []Element
	for _, elem := range c.elems {
		if !drop(elem) {
			n = append(n, elem)
		}
	}
	return Chain{elems: n}
}

// Map returns a new Chain with each Element replaced by f's result.
func (c Chain) Map(f func(Element) Element) Chain {
	n := make([]Element, len(c.elems))
	for i, elem := range c.elems {
		n[i] = f(elem)
	}
	return Chain{elems: n}
}

// Content concatenates the Elements' contents.
func (c Chain) Content() string {
	var b strings.Builder
	for _, elem := range c.elems {
		b.WriteString(elem.Content())
	}
	return b.String()
}

// TakeContent returns up to n runes of the Chain's content.
func (c Chain) TakeContent(n int) string {
	content := c.Content()
	if utf8.RuneCountInString(content) <= n {
		return content
	}

	runes := 0
	for i := range content {
		if runes == n {
			return content[:i]
		}
		runes++
	}
	return content
}

// Has reports whether the Chain carries the Flag.
func (c Chain) Has(flag Flag) bool {
	for _, elem := range c.elems {
		if f, ok := elem.(Flag); ok && f == flag {
			return true
		}
	}
	return false
}

// First returns the first Element of type T.
func First[T Element](c Chain) (elem T, ok bool) {
	for _, e := range c.elems {
		if elem, ok = e.(T); ok {
			return
		}
	}
	return
}

// Single returns the Chain's only Element besides Flags if it is of type T.
func Single[T Element](c Chain) (elem T, ok bool) {
	content := c.Without(func(e Element) bool {
		_, isFlag := e.(Flag)
		return isFlag
	})
	if content.Len() != 1 {
		return
	}
	elem, ok = content.elems[0].(T)
	return
}

func (c Chain) String() string {
	return c.Content()
}
