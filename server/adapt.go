package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aponysus/opcall/transport"
)

// PathParams holds the route parameters of an inbound request. It is stored
// in the request extensions.
type PathParams map[string]string

// Param returns the named route parameter of req.
func Param(req *transport.Request, name string) string {
	params, _ := transport.ExtensionValue[PathParams](&req.Extensions)
	return params[name]
}

// FromHTTP converts an inbound request, reading at most limit body bytes
// (transport.DefaultBodyLimit when limit <= 0).
func FromHTTP(r *http.Request, limit int64) (*transport.Request, error) {
	if limit <= 0 {
		limit = transport.DefaultBodyLimit
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return nil, fmt.Errorf("server: read body: %w", err)
		}
		if int64(len(body)) > limit {
			return nil, transport.ErrBodyTooLarge
		}
	}

	req := transport.NewRequest(r.Method, r.URL.RequestURI(), body)
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.URLParams.Keys) > 0 {
		params := make(PathParams, len(rctx.URLParams.Keys))
		for i, k := range rctx.URLParams.Keys {
			params[k] = rctx.URLParams.Values[i]
		}
		transport.SetExtension(&req.Extensions, params)
	}
	return req, nil
}

// WriteHTTP writes resp to w and closes its body.
func WriteHTTP(w http.ResponseWriter, resp *transport.Response) error {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	defer resp.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Body == nil {
		return nil
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("server: write body: %w", err)
	}
	return nil
}
