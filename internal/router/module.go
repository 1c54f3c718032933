package router

import (
	"context"
	"sort"
)

// NullAddress is the null module sentinel. It is the required address for
// Remove route changes and is never registrable.
const NullAddress = ""

// Module is the capability every registered logic unit exposes: handle one
// operation against the shared arena. Implementations receive the call frame
// (operation id, raw arguments, original caller, arena transaction) and
// return an encoded result or a failure that aborts the whole call.
type Module interface {
	Handle(ctx context.Context, call *Call) ([]byte, error)
}

// ModuleFunc adapts a function to the Module capability.
type ModuleFunc func(ctx context.Context, call *Call) ([]byte, error)

// Handle implements Module.
func (f ModuleFunc) Handle(ctx context.Context, call *Call) ([]byte, error) {
	return f(ctx, call)
}

// Registry holds the deployed module code known to this process, keyed by
// module address. An address "references code that exists" exactly when it
// is present here. The registry is populated at wiring time and read-only
// afterwards; which operations an address owns is decided by the routing
// table in the arena, not by the registry.
type Registry struct {
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register installs module code under the given address. Registering the
// null address or nil code is a wiring bug and panics.
func (r *Registry) Register(address string, module Module) {
	if address == NullAddress {
		panic("router: cannot register the null address")
	}
	if module == nil {
		panic("router: cannot register nil module code")
	}
	r.modules[address] = module
}

// Lookup resolves an address to its module code.
func (r *Registry) Lookup(address string) (Module, bool) {
	module, ok := r.modules[address]
	return module, ok
}

// Addresses returns the registered addresses in sorted order.
func (r *Registry) Addresses() []string {
	addresses := make([]string, 0, len(r.modules))
	for address := range r.modules {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}
