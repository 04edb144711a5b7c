// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import "fmt"

// TargetKind distinguishes private and group conversations.
type TargetKind uint64

const (
	Friend TargetKind = iota
	Group
)

func (kind TargetKind) String() string {
	switch kind {
	case Friend:
		return "friend"
	case Group:
		return "group"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(kind))
	}
}

// ParseTargetKind parses "friend" or "group".
func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "friend":
		return Friend, nil
	case "group":
		return Group, nil
	default:
		return 0, fmt.Errorf("unknown target kind %q", s)
	}
}

// Target of a message.
type Target struct {
	Kind TargetKind
	ID   uint64
}

func (t Target) String() string {
	return fmt.Sprintf("%v:%d", t.Kind, t.ID)
}
