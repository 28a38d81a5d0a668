package sensitivity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/aponysus/opcall/transport"
)

// MaxLoggedBody bounds the logged body text. Redaction runs on the whole
// body before truncation.
const MaxLoggedBody = 4 << 10

// RequestFmt formats requests. Nil functions mark nothing sensitive.
type RequestFmt struct {
	Header func(name string) HeaderMarker
	Query  func(key string) QueryMarker
	Label  func(segment int) bool
	Greedy *GreedyLabel

	// BodyFields are dotted paths into a JSON body whose values are
	// sensitive. Arrays along a path apply the rest of the path to every
	// element.
	BodyFields []string
}

// ResponseFmt formats responses.
type ResponseFmt struct {
	Header     func(name string) HeaderMarker
	StatusCode bool
	BodyFields []string
}

func (f RequestFmt) FormatRequest(req *transport.Request) (slog.Value, error) {
	if req == nil {
		return slog.Value{}, errors.New("sensitivity: nil request")
	}
	body, err := formatBody(req.Body, f.BodyFields)
	if err != nil {
		return slog.Value{}, err
	}
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("uri", f.formatURI(req.URI)),
		slog.Any("headers", formatHeaders(req.Header, f.Header)),
	}
	if body != "" {
		attrs = append(attrs, slog.String("body", body))
	}
	return slog.GroupValue(attrs...), nil
}

func (f ResponseFmt) FormatResponse(resp *transport.Response) (slog.Value, error) {
	if resp == nil {
		return slog.Value{}, errors.New("sensitivity: nil response")
	}
	status := slog.Int("status", resp.StatusCode)
	if f.StatusCode {
		status = slog.String("status", Redacted)
	}
	attrs := []slog.Attr{
		status,
		slog.Any("headers", formatHeaders(resp.Header, f.Header)),
	}
	if resp.Loaded() {
		body, err := formatBody(resp.Bytes(), f.BodyFields)
		if err != nil {
			return slog.Value{}, err
		}
		if body != "" {
			attrs = append(attrs, slog.String("body", body))
		}
	}
	return slog.GroupValue(attrs...), nil
}

func (f RequestFmt) formatURI(uri string) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	path = f.formatPath(path)
	if !hasQuery {
		return path
	}
	return path + "?" + f.formatQuery(query)
}

func (f RequestFmt) formatPath(path string) string {
	if f.Label == nil && f.Greedy == nil {
		return path
	}
	lead := strings.HasPrefix(path, "/")
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")

	n, tail := len(segs), ""
	if g := f.Greedy; g != nil && g.SegmentIndex >= 0 && g.SegmentIndex < len(segs) {
		rest := strings.Join(segs[g.SegmentIndex:], "/")
		if len(rest) > len(g.Suffix) && strings.HasSuffix(rest, g.Suffix) {
			n, tail = g.SegmentIndex, g.Suffix
		}
	}

	out := make([]string, 0, n+1)
	for i, seg := range segs[:n] {
		if f.Label != nil && f.Label(i) {
			seg = Redacted
		}
		out = append(out, seg)
	}
	if n < len(segs) {
		out = append(out, Redacted)
	}

	s := strings.Join(out, "/") + tail
	if lead {
		s = "/" + s
	}
	return s
}

func (f RequestFmt) formatQuery(query string) string {
	if f.Query == nil || query == "" {
		return query
	}
	parts := strings.Split(query, "&")
	for i, p := range parts {
		k, v, hasValue := strings.Cut(p, "=")
		m := f.Query(queryKey(k))
		if m.Key {
			k = Redacted
		}
		if m.Value && hasValue {
			v = Redacted
		}
		if hasValue {
			parts[i] = k + "=" + v
		} else {
			parts[i] = k
		}
	}
	return strings.Join(parts, "&")
}

// queryKey returns the key as a server decodes it, so an escaped spelling of
// a sensitive key still matches its marker.
func queryKey(raw string) string {
	if k, err := url.QueryUnescape(raw); err == nil {
		return k
	}
	return raw
}

func formatHeaders(h http.Header, marker func(string) HeaderMarker) slog.Value {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		values := h[name]
		var m HeaderMarker
		if marker != nil {
			m = marker(name)
		}
		key := name
		if m.KeySuffix > 0 && m.KeySuffix < len(name) {
			key = name[:m.KeySuffix] + Redacted
		}
		val := strings.Join(values, ", ")
		if m.Value {
			val = Redacted
		}
		attrs = append(attrs, slog.String(key, val))
	}
	return slog.GroupValue(attrs...)
}

func formatBody(body []byte, fields []string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	if len(fields) == 0 {
		return truncate(body), nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("sensitivity: body is not valid JSON: %w", err)
	}
	if dec.More() {
		return "", errors.New("sensitivity: body has trailing data after JSON value")
	}
	for _, field := range fields {
		doc = redactPath(doc, strings.Split(field, "."))
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("sensitivity: encode redacted body: %w", err)
	}
	return truncate(out), nil
}

func redactPath(v any, path []string) any {
	if len(path) == 0 {
		return Redacted
	}
	switch node := v.(type) {
	case map[string]any:
		// encoding/json binds object keys to fields case-insensitively.
		for k, child := range node {
			if strings.EqualFold(k, path[0]) {
				node[k] = redactPath(child, path[1:])
			}
		}
		return node
	case []any:
		for i := range node {
			node[i] = redactPath(node[i], path)
		}
		return node
	default:
		return v
	}
}

func truncate(b []byte) string {
	if len(b) <= MaxLoggedBody {
		if utf8.Valid(b) {
			return string(b)
		}
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	cut := b[:MaxLoggedBody]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut) + "…"
}
