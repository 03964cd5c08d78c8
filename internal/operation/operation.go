package operation

import (
	"errors"
	"strings"
	"unicode"
)

// Namespace tags where an operation originates. Route operations come from the
// HTTP router; the others are virtual operations metered by internal callers.
type Namespace string

const (
	NamespaceRoute    Namespace = "route"
	NamespaceInternal Namespace = "internal"
	NamespaceWebhook  Namespace = "webhook"
	NamespaceWorker   Namespace = "worker"
)

const maxNameLength = 255

var ErrInvalidOperation = errors.New("invalid_operation")

var virtualNamespaces = map[Namespace]struct{}{
	NamespaceInternal: {},
	NamespaceWebhook:  {},
	NamespaceWorker:   {},
}

// ID identifies a meterable operation.
type ID struct {
	Namespace Namespace
	Name      string
}

func Route(name string) ID    { return ID{Namespace: NamespaceRoute, Name: name} }
func Internal(name string) ID { return ID{Namespace: NamespaceInternal, Name: name} }
func Webhook(name string) ID  { return ID{Namespace: NamespaceWebhook, Name: name} }
func Worker(name string) ID   { return ID{Namespace: NamespaceWorker, Name: name} }

// IsVirtual reports whether the operation is not backed by an HTTP route.
func (id ID) IsVirtual() bool {
	_, ok := virtualNamespaces[id.Namespace]
	return ok
}

// String returns the persisted form. Route names are stored as-is, virtual
// operations as "namespace:name".
func (id ID) String() string {
	if id.Namespace == NamespaceRoute || id.Namespace == "" {
		return id.Name
	}
	return string(id.Namespace) + ":" + id.Name
}

func (id ID) Validate() error {
	if id.Namespace != NamespaceRoute && !id.IsVirtual() {
		return ErrInvalidOperation
	}
	name := id.Name
	if name == "" || len(name) > maxNameLength || strings.TrimSpace(name) != name {
		return ErrInvalidOperation
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidOperation
		}
	}
	if id.IsVirtual() && strings.Contains(name, ":") {
		return ErrInvalidOperation
	}
	// a route spelled like a virtual operation would share its persisted form
	if prefix, _, ok := strings.Cut(name, ":"); ok && id.Namespace == NamespaceRoute {
		if _, virtual := virtualNamespaces[Namespace(prefix)]; virtual {
			return ErrInvalidOperation
		}
	}
	return nil
}

// Parse reads the persisted form back. Only registered virtual namespaces are
// recognised as prefixes, so route templates such as "/api/leads/:id" stay
// route operations.
func Parse(raw string) (ID, error) {
	if prefix, name, ok := strings.Cut(raw, ":"); ok {
		ns := Namespace(prefix)
		if _, virtual := virtualNamespaces[ns]; virtual {
			id := ID{Namespace: ns, Name: name}
			if err := id.Validate(); err != nil {
				return ID{}, err
			}
			return id, nil
		}
	}
	id := Route(raw)
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}
