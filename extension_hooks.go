package mailbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RoutePack is a named set of routes installed together, for example by a
// downstream module that contributes device handlers.
type RoutePack struct {
	Name   string
	Routes map[string]Handler
	Cached bool
}

type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]RoutePack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: map[string]RoutePack{}}
}

func (h *ExtensionHooks) RegisterRoutePack(pack RoutePack) error {
	if h == nil {
		return fmt.Errorf("mailbox: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("mailbox: route pack name is required")
	}
	if len(pack.Routes) == 0 {
		return fmt.Errorf("mailbox: route pack %q has no routes", name)
	}
	routes := make(map[string]Handler, len(pack.Routes))
	for key, handler := range pack.Routes {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("mailbox: route pack %q contains an empty route key", name)
		}
		if handler == nil {
			return fmt.Errorf("mailbox: route pack %q has nil handler for %q", name, key)
		}
		routes[key] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("mailbox: route pack %q already registered", name)
	}
	h.packs[name] = RoutePack{Name: name, Routes: routes, Cached: pack.Cached}
	return nil
}

// RouteRegistrar is the part of a router route packs are installed into.
type RouteRegistrar interface {
	Add(key string, handler Handler) error
	AddCached(key string, handler Handler) error
}

// Install adds every pack's routes in pack name then route key order. A key
// registered twice across packs fails the install.
func (h *ExtensionHooks) Install(router RouteRegistrar) error {
	if h == nil {
		return nil
	}
	if router == nil {
		return fmt.Errorf("mailbox: router is required")
	}
	seen := map[string]string{}
	for _, pack := range h.RoutePacks() {
		keys := make([]string, 0, len(pack.Routes))
		for key := range pack.Routes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if owner, dup := seen[key]; dup {
				return fmt.Errorf("mailbox: route %q from pack %q already installed by pack %q", key, pack.Name, owner)
			}
			seen[key] = pack.Name
			var err error
			if pack.Cached {
				err = router.AddCached(key, pack.Routes[key])
			} else {
				err = router.Add(key, pack.Routes[key])
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) RoutePacks() []RoutePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]RoutePack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		routes := make(map[string]Handler, len(pack.Routes))
		for key, handler := range pack.Routes {
			routes[key] = handler
		}
		out = append(out, RoutePack{Name: pack.Name, Routes: routes, Cached: pack.Cached})
	}
	return out
}

func (h *ExtensionHooks) PackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
