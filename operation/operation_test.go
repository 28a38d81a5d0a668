package operation

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/transport"
)

type thing struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

type gone struct{}

func (gone) Error() string { return "gone" }

func onError(resp *transport.Response) error {
	if resp.StatusCode == 410 {
		return gone{}
	}
	return nil
}

func streaming(body string) *transport.Response {
	return &transport.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body))}
}

func TestOperation_RequestIsClonedPerAttempt(t *testing.T) {
	req := transport.NewRequest("PUT", "/things/1", []byte("x"))
	op := New("PutThing", req, Bytes(nil))
	req.Header.Set("X-Late", "1")

	r1, serr := op.Request()
	require.Nil(t, serr)
	r1.Header.Set("X-Attempt", "1")
	r1.Body[0] = 'y'

	r2, serr := op.Request()
	require.Nil(t, serr)
	assert.Empty(t, r2.Header.Get("X-Attempt"))
	assert.Empty(t, r2.Header.Get("X-Late"))
	assert.Equal(t, []byte("x"), r2.Body)
}

func TestOperation_BuiltRequest(t *testing.T) {
	calls := 0
	op := NewBuilt("Build", func() (*transport.Request, error) {
		calls++
		return transport.NewRequest("GET", "/", nil), nil
	}, Bytes(nil))

	_, serr := op.Request()
	require.Nil(t, serr)
	_, serr = op.Request()
	require.Nil(t, serr)
	assert.Equal(t, 2, calls)

	failing := NewBuilt("Build", func() (*transport.Request, error) { return nil, errors.New("no") }, Bytes(nil))
	_, serr = failing.Request()
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindConstruction, serr.Kind)

	empty := NewBuilt("Build", func() (*transport.Request, error) { return nil, nil }, Bytes(nil))
	_, serr = empty.Request()
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindConstruction, serr.Kind)

	var zero Operation[[]byte]
	_, serr = zero.Request()
	require.NotNil(t, serr)
}

func TestOperation_BuilderMethodsReturnCopies(t *testing.T) {
	base := New(" GetThing ", transport.NewRequest("GET", "/", nil), JSON[thing](onError))
	assert.Equal(t, "GetThing", base.Name())
	assert.IsType(t, classify.Standard[thing]{}, base.Classifier())

	withLayer := base.Layer(layer.Identity)
	withClassifier := base.WithClassifier(classify.HTTPStatus[thing]{})

	assert.Equal(t, 0, base.Layers().Len())
	assert.Equal(t, 1, withLayer.Layers().Len())
	assert.IsType(t, classify.HTTPStatus[thing]{}, withClassifier.Classifier())
	assert.IsType(t, classify.Standard[thing]{}, base.Classifier())
	assert.NotNil(t, base.Parser())
}

func TestParseResponse_JSON(t *testing.T) {
	op := New("GetThing", transport.NewRequest("GET", "/", nil), JSON[thing](onError))

	out, serr := op.ParseResponse(streaming(`{"id":"a","size":3}`))
	require.Nil(t, serr)
	assert.Equal(t, thing{ID: "a", Size: 3}, out)

	_, serr = op.ParseResponse(streaming(`{"id":`))
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindResponse, serr.Kind)

	_, serr = op.ParseResponse(transport.NewResponse(410, nil))
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindService, serr.Kind)
	assert.Equal(t, 410, serr.StatusCode())
	assert.ErrorAs(t, serr, new(gone))

	_, serr = op.ParseResponse(transport.NewResponse(500, nil))
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindResponse, serr.Kind)

	out, serr = op.ParseResponse(transport.NewResponse(204, nil))
	require.Nil(t, serr)
	assert.Zero(t, out)
}

func TestParseResponse_BodyLimit(t *testing.T) {
	op := New("Get", transport.NewRequest("GET", "/", nil), Bytes(nil)).WithBodyLimit(4)

	_, serr := op.ParseResponse(streaming("12345"))
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindResponse, serr.Kind)
	assert.ErrorIs(t, serr, transport.ErrBodyTooLarge)

	out, serr := op.ParseResponse(streaming("1234"))
	require.Nil(t, serr)
	assert.Equal(t, []byte("1234"), out)
}

// lineCounter counts lines straight from the unbuffered body for 200
// responses and defers everything else to the buffered path.
type lineCounter struct {
	unloaded int
}

func (p *lineCounter) ParseUnloaded(resp *transport.Response) (int, bool, error) {
	if resp.StatusCode != 200 {
		return 0, false, nil
	}
	p.unloaded++
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, true, &ParseError{Err: err}
	}
	return strings.Count(string(data), "\n"), true, nil
}

func (p *lineCounter) Parse(resp *transport.Response) (int, error) {
	return 0, gone{}
}

func TestParseResponse_UnloadedFirst(t *testing.T) {
	p := &lineCounter{}
	op := New("Lines", transport.NewRequest("GET", "/", nil), Parser[int](p))

	resp := streaming("a\nb\nc\n")
	n, serr := op.ParseResponse(resp)
	require.Nil(t, serr)
	assert.Equal(t, 3, n)
	assert.False(t, resp.Loaded())
	assert.Equal(t, 1, p.unloaded)

	resp = transport.NewResponse(410, nil)
	_, serr = op.ParseResponse(resp)
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindService, serr.Kind)
	assert.Equal(t, 1, p.unloaded)
}

func TestParseResponse_NoParser(t *testing.T) {
	op := New[string]("Nothing", transport.NewRequest("GET", "/", nil), nil)
	_, serr := op.ParseResponse(transport.NewResponse(200, nil))
	require.NotNil(t, serr)
	assert.Equal(t, sdk.KindResponse, serr.Kind)
}

func TestParseError(t *testing.T) {
	err := ParseErrorf("bad %s", "thing")
	assert.EqualError(t, err, "operation: parse error: bad thing")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "operation: parse error", (&ParseError{}).Error())
}
