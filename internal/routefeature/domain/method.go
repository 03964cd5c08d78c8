package domain

import (
	"net/http"
	"strings"
)

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	MethodAny:          {},
}

// NormalizeMethod upper-cases method and maps an empty value to MethodAny.
func NormalizeMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return MethodAny, nil
	}
	if _, ok := knownMethods[method]; !ok {
		return "", ErrInvalidMethod
	}
	return method, nil
}
