// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
)

// Category of a registered pass: passes of a category run together, in registration order.
type Category int

const (
	// BuiltIn passes run in the first fusion round.
	BuiltIn Category = iota

	// SecondRoundBuiltIn passes run after the BuiltIn ones.
	SecondRoundBuiltIn
)

// Categories lists all categories in the order they run.
var Categories = []Category{BuiltIn, SecondRoundBuiltIn}

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case BuiltIn:
		return "BuiltIn"
	case SecondRoundBuiltIn:
		return "SecondRoundBuiltIn"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, paramInvalidf("unknown pass category %q", name)
}

// Constructor creates a Pass bound to the session.
type Constructor func(session *Session) Pass

type registration struct {
	name        string
	category    Category
	constructor Constructor
}

var (
	registryMu    sync.Mutex
	registrations []registration
)

// Register a pass with the given name and category.
//
// To be safe, call Register during initialization of a package. It panics if name is already registered.
func Register(name string, category Category, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, reg := range registrations {
		if reg.name == name {
			exceptions.Panicf("fusion pass %q registered twice", name)
		}
	}
	registrations = append(registrations, registration{name: name, category: category, constructor: constructor})
}

// Registered returns the names of the passes of the category, in registration order.
func Registered(category Category) []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	var names []string
	for _, reg := range registrations {
		if reg.category == category {
			names = append(names, reg.name)
		}
	}
	return names
}

func lookup(name string) (registration, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, reg := range registrations {
		if reg.name == name {
			return reg, true
		}
	}
	return registration{}, false
}

// NewPass creates the registered pass name bound to session.
func NewPass(name string, session *Session) (Pass, error) {
	reg, found := lookup(name)
	if !found {
		return nil, paramInvalidf("no fusion pass %q registered, maybe import _ \"github.com/gomlx/fusion/pkg/passes/all\"?", name)
	}
	return reg.constructor(session), nil
}

// CategoryOf returns the category of the registered pass name.
func CategoryOf(name string) (Category, bool) {
	reg, found := lookup(name)
	return reg.category, found
}
