package sensitivity

import (
	"net/http"
	"strings"
)

// HeaderMarker describes which parts of a header are sensitive.
type HeaderMarker struct {
	// Value redacts the header value.
	Value bool
	// KeySuffix, when positive, redacts the header name after that many
	// bytes. Prefix headers such as X-Meta-<key> carry data in their names.
	KeySuffix int
}

// QueryMarker describes which parts of a query parameter are sensitive.
type QueryMarker struct {
	Key   bool
	Value bool
}

// GreedyLabel describes a path label that spans several segments. The label
// starts at path segment SegmentIndex (0-based, leading slash excluded) and
// runs to the end of the path minus Suffix.
type GreedyLabel struct {
	SegmentIndex int
	Suffix       string
}

// SensitiveHeaders marks the values of the named headers sensitive. Names
// match case-insensitively.
func SensitiveHeaders(names ...string) func(string) HeaderMarker {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	return func(name string) HeaderMarker {
		_, ok := set[http.CanonicalHeaderKey(name)]
		return HeaderMarker{Value: ok}
	}
}

// PrefixHeaders marks headers starting with prefix. keySensitive redacts the
// part of the name after the prefix and valueSensitive the value.
func PrefixHeaders(prefix string, keySensitive, valueSensitive bool) func(string) HeaderMarker {
	return func(name string) HeaderMarker {
		if len(name) < len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
			return HeaderMarker{}
		}
		m := HeaderMarker{Value: valueSensitive}
		if keySensitive {
			m.KeySuffix = len(prefix)
		}
		return m
	}
}

// Headers combines header marker functions; a part is sensitive when any of
// them marks it.
func Headers(fns ...func(string) HeaderMarker) func(string) HeaderMarker {
	return func(name string) HeaderMarker {
		var out HeaderMarker
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			m := fn(name)
			out.Value = out.Value || m.Value
			if m.KeySuffix > 0 && (out.KeySuffix == 0 || m.KeySuffix < out.KeySuffix) {
				out.KeySuffix = m.KeySuffix
			}
		}
		return out
	}
}

// SensitiveQuery marks the values of the named query parameters sensitive.
func SensitiveQuery(keys ...string) func(string) QueryMarker {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(key string) QueryMarker {
		_, ok := set[key]
		return QueryMarker{Value: ok}
	}
}

// AllQuery applies the same marker to every query parameter, as for a
// parameter map bound to a sensitive member.
func AllQuery(keySensitive, valueSensitive bool) func(string) QueryMarker {
	return func(string) QueryMarker {
		return QueryMarker{Key: keySensitive, Value: valueSensitive}
	}
}

// Labels marks the given path segment indexes sensitive.
func Labels(indexes ...int) func(int) bool {
	set := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		set[i] = struct{}{}
	}
	return func(i int) bool {
		_, ok := set[i]
		return ok
	}
}
