// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package duet

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
)

// This file provides a registry for Backend implementations.
//
// The registry is intended to be used by all client applications that would
// like to obtain backend instances. For an implementation to be available
// it needs to be registered. Typically, this registration is part of the
// init code of the package providing an implementation. Thus, by including
// the implementation package, backend implementations become available
// in this central registry.

// NewBackend performs a lookup for the given kind in the registry and
// creates a new Backend using the given optional configuration. If no
// configuration is provided, the implementation uses its default
// configuration. An error is returned if no factory was registered for the
// requested kind.
func NewBackend(kind BackendKind, config ...any) (Backend, error) {
	if len(config) > 1 {
		return nil, fmt.Errorf("invalid configuration: too many arguments")
	}
	factory := GetBackendFactory(kind)
	if factory == nil {
		return nil, fmt.Errorf("no backend registered for kind %v", kind)
	}
	c := any(nil)
	if len(config) > 0 {
		c = config[0]
	}
	return factory(c)
}

// GetBackendFactory performs a lookup for the given kind in the registry.
// The result is nil if no factory was registered for the kind.
func GetBackendFactory(kind BackendKind) BackendFactory {
	backendRegistryLock.Lock()
	defer backendRegistryLock.Unlock()
	return backendRegistry[kind]
}

// GetAllRegisteredBackends obtains all registered implementations.
func GetAllRegisteredBackends() map[BackendKind]BackendFactory {
	backendRegistryLock.Lock()
	defer backendRegistryLock.Unlock()
	return maps.Clone(backendRegistry)
}

// RegisterBackendFactory registers a new Backend implementation to be
// exported for general use in the binary. An error is returned if a factory
// was bound to the same kind before, or the factory is nil. This function is
// mainly intended to be used by package initialization code.
func RegisterBackendFactory(kind BackendKind, factory BackendFactory) error {
	if factory == nil {
		return fmt.Errorf("invalid initialization: cannot register nil-factory for `%v`", kind)
	}
	backendRegistryLock.Lock()
	defer backendRegistryLock.Unlock()
	if _, found := backendRegistry[kind]; found {
		return fmt.Errorf("invalid initialization: multiple factories registered for `%v`", kind)
	}
	backendRegistry[kind] = factory
	return nil
}

// BackendFactory is the type of a function that creates a new Backend
// using an implementation specific configuration.
type BackendFactory func(config any) (Backend, error)

// backendRegistry is a global registry for Backend factories of different
// implementations and configurations.
var backendRegistry = map[BackendKind]BackendFactory{}

// backendRegistryLock to protect access to the registry.
var backendRegistryLock sync.Mutex
