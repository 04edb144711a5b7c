// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"sort"
	"sync"
)

// Decoder turns a decrypted body into a typed payload.
type Decoder func(sequenceID uint32, body []byte) (interface{}, error)

// Command describes a known command.
type Command struct {
	Name string

	// Kind is the EncryptionKind used for outgoing packets of this command.
	Kind EncryptionKind

	// Decode incoming bodies. Might be nil for outgoing-only commands.
	Decode Decoder
}

// Registry maps command names to Commands. It is safe for concurrent use.
type Registry struct {
	mutex    sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register a Command, replacing a previous one of the same name.
func (r *Registry) Register(cmd Command) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.commands[cmd.Name] = cmd
}

// Lookup a Command by its name.
func (r *Registry) Lookup(name string) (cmd Command, ok bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cmd, ok = r.commands[name]
	return
}

// NewPacket for a registered command, using the command's EncryptionKind.
// Unregistered commands are sent with the PersistedKey.
func (r *Registry) NewPacket(name string, body []byte) Packet {
	kind := PersistedKey
	if cmd, ok := r.Lookup(name); ok {
		kind = cmd.Kind
	}

	return Packet{
		CommandName:    name,
		EncryptionKind: kind,
		Body:           body,
	}
}

// Names of all registered commands, sorted.
func (r *Registry) Names() (names []string) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}
