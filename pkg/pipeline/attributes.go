// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"fmt"
	"sync"
)

// Key of an attribute of type T.
type Key[T any] struct {
	name string
}

// NewKey with a unique name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) String() string {
	return k.name
}

// Get the value of this Key.
func (k Key[T]) Get(attrs *Attributes) (value T, ok bool) {
	attrs.mutex.RLock()
	defer attrs.mutex.RUnlock()

	v, exists := attrs.values[k.name]
	if !exists {
		return
	}
	value, ok = v.(T)
	return
}

// MustGet the value of this Key. It panics for a missing value, which is a
// programming error within a pipeline's phases.
func (k Key[T]) MustGet(attrs *Attributes) T {
	value, ok := k.Get(attrs)
	if !ok {
		panic(fmt.Sprintf("pipeline: attribute %s is missing", k.name))
	}
	return value
}

// Set the value of this Key, replacing any previous one.
func (k Key[T]) Set(attrs *Attributes, value T) {
	attrs.mutex.Lock()
	defer attrs.mutex.Unlock()
	attrs.values[k.name] = value
}

// Attributes is a typed key-value bag shared by the phases of one execution.
type Attributes struct {
	mutex  sync.RWMutex
	values map[string]interface{}
}

// NewAttributes creates an empty bag.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]interface{})}
}

// Len is the number of set attributes.
func (attrs *Attributes) Len() int {
	attrs.mutex.RLock()
	defer attrs.mutex.RUnlock()
	return len(attrs.values)
}
