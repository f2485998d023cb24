// Package store is a registry of blob-store backends.
// Each backend subpackage registers a Factory under its name in an init function,
// so importing a backend (possibly for side effects only) makes it available to Create.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bobg/pit"
)

// Factory creates a store from a configuration map.
// The keys it understands are particular to each backend.
type Factory func(context.Context, map[string]interface{}) (pit.AnchorStore, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under the given key.
func Register(key string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = f
}

// Create creates a store using the backend registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (pit.AnchorStore, error) {
	registryMu.Lock()
	f, ok := registry[key]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Names lists the registered backends.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	var names []string
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Nested creates the store described by conf["nested"],
// for backends that wrap another store.
func Nested(ctx context.Context, conf map[string]interface{}) (pit.AnchorStore, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"nested" parameter missing "type"`)
	}
	return Create(ctx, nestedType, nested)
}
