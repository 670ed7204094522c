package cache

import (
	"fmt"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "aps:job"

// Key identifies a cached job snapshot.
type Key struct {
	// Service is the APS service (e.g. "da", "derivative").
	Service string

	// Kind is the job kind within the service (e.g. "workitem", "manifest").
	Kind string

	// ID is the job identifier (work item id, design URN).
	ID string

	// Params distinguish variants of the same job (e.g. {"region": "emea"}).
	Params map[string]string

	// Scope separates callers that must not share snapshots. Empty is global.
	Scope string
}

// String generates a deterministic cache key string.
// Format: aps:job:service:kind:id:param1=val1:scope=x
//
// Example:
//
//	aps:job:da:workitem:5e1c0e2b:scope=acme
func (k Key) String() string {
	parts := []string{KeyPrefix}

	for _, p := range []string{k.Service, k.Kind, k.ID} {
		if p = strings.Trim(p, ":/ "); p != "" {
			parts = append(parts, p)
		}
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}
