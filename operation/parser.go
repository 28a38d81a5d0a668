package operation

import (
	"encoding/json"
	"fmt"

	"github.com/aponysus/opcall/transport"
)

// Parser turns a buffered response into the operation's output. A returned
// *ParseError means the response could not be understood and is never
// retried. Any other error is the operation's modeled error.
type Parser[T any] interface {
	Parse(resp *transport.Response) (T, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc[T any] func(resp *transport.Response) (T, error)

func (f ParserFunc[T]) Parse(resp *transport.Response) (T, error) { return f(resp) }

// UnloadedParser is implemented by parsers that can handle some responses
// before the body is buffered, such as streaming downloads. When handled is
// false the response is buffered and passed to Parse.
type UnloadedParser[T any] interface {
	ParseUnloaded(resp *transport.Response) (out T, handled bool, err error)
}

// ParseError reports a response that could not be parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	if e == nil || e.Err == nil {
		return "operation: parse error"
	}
	return "operation: parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrorf formats a ParseError.
func ParseErrorf(format string, args ...any) error {
	return &ParseError{Err: fmt.Errorf(format, args...)}
}

// JSON returns a parser that decodes 2xx bodies into T and hands every other
// response to onError. A nil onError yields a ParseError for non-2xx
// responses.
func JSON[T any](onError func(resp *transport.Response) error) Parser[T] {
	return ParserFunc[T](func(resp *transport.Response) (T, error) {
		var out T
		if !resp.Success() {
			return out, statusErr(resp, onError)
		}
		body := resp.Bytes()
		if len(body) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return out, &ParseError{Err: err}
		}
		return out, nil
	})
}

// Bytes returns a parser that yields the raw body of 2xx responses.
func Bytes(onError func(resp *transport.Response) error) Parser[[]byte] {
	return ParserFunc[[]byte](func(resp *transport.Response) ([]byte, error) {
		if !resp.Success() {
			return nil, statusErr(resp, onError)
		}
		return resp.Bytes(), nil
	})
}

func statusErr(resp *transport.Response, onError func(*transport.Response) error) error {
	if onError != nil {
		if err := onError(resp); err != nil {
			return err
		}
	}
	return ParseErrorf("unexpected status %d", resp.StatusCode)
}
