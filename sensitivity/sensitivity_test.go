package sensitivity

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/transport"
)

// render logs v through a JSON handler so assertions see exactly what a log
// line would contain.
func render(t *testing.T, v slog.Value) string {
	t.Helper()
	var buf bytes.Buffer
	opts := &slog.HandlerOptions{ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	}}
	slog.New(slog.NewJSONHandler(&buf, opts)).Info("x", slog.Any("v", v))
	return buf.String()
}

func TestFormatRequest_URI(t *testing.T) {
	cases := []struct {
		name string
		fmt  RequestFmt
		uri  string
		want string
	}{
		{name: "nothing_sensitive", fmt: RequestFmt{}, uri: "/a/b?x=1", want: "/a/b?x=1"},
		{name: "labels", fmt: RequestFmt{Label: Labels(1, 2)}, uri: "/secret/alice/bob", want: "/secret/{redacted}/{redacted}"},
		{name: "greedy_end", fmt: RequestFmt{Greedy: &GreedyLabel{SegmentIndex: 1}}, uri: "/pokemon-species/pika/chu", want: "/pokemon-species/{redacted}"},
		{
			name: "greedy_suffix",
			fmt:  RequestFmt{Greedy: &GreedyLabel{SegmentIndex: 1, Suffix: "/ash/ketchum"}},
			uri:  "/pokemon-species/pika/chu/ash/ketchum",
			want: "/pokemon-species/{redacted}/ash/ketchum",
		},
		{
			name: "greedy_and_label",
			fmt:  RequestFmt{Label: Labels(0), Greedy: &GreedyLabel{SegmentIndex: 2}},
			uri:  "/tenant/files/a/b/c",
			want: "/{redacted}/files/{redacted}",
		},
		{name: "greedy_missing", fmt: RequestFmt{Greedy: &GreedyLabel{SegmentIndex: 5}}, uri: "/a/b", want: "/a/b"},
		{name: "query_value", fmt: RequestFmt{Query: SensitiveQuery("token")}, uri: "/a?token=s3cr3t&page=2", want: "/a?token={redacted}&page=2"},
		{name: "query_escaped_key", fmt: RequestFmt{Query: SensitiveQuery("token")}, uri: "/x?tok%65n=s3cret", want: "/x?tok%65n={redacted}"},
		{name: "query_plus_key", fmt: RequestFmt{Query: SensitiveQuery("api key")}, uri: "/x?api+key=s3cret&q=1", want: "/x?api+key={redacted}&q=1"},
		{name: "query_bad_escape", fmt: RequestFmt{Query: SensitiveQuery("token")}, uri: "/x?tok%zz=v", want: "/x?tok%zz=v"},
		{name: "query_all", fmt: RequestFmt{Query: AllQuery(true, true)}, uri: "/a?k=v&flag", want: "/a?{redacted}={redacted}&{redacted}"},
		{name: "query_key_only", fmt: RequestFmt{Query: AllQuery(true, false)}, uri: "/a?k=v", want: "/a?{redacted}=v"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := tc.fmt.FormatRequest(transport.NewRequest("GET", tc.uri, nil))
			require.NoError(t, err)
			assert.Equal(t, tc.want, groupAttr(t, v, "uri").String())
		})
	}
}

func groupAttr(t *testing.T, v slog.Value, key string) slog.Value {
	t.Helper()
	require.Equal(t, slog.KindGroup, v.Kind())
	for _, a := range v.Group() {
		if a.Key == key {
			return a.Value
		}
	}
	t.Fatalf("attribute %q not found", key)
	return slog.Value{}
}

func TestFormatRequest_Headers(t *testing.T) {
	f := RequestFmt{Header: Headers(SensitiveHeaders("authorization"), PrefixHeaders("X-Meta-", true, true), nil)}
	req := transport.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	req.Header.Set("X-Meta-Owner", "alice")
	req.Header.Set("Accept", "application/json")

	v, err := f.FormatRequest(req)
	require.NoError(t, err)
	out := render(t, v)

	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, "alice")
	assert.NotContains(t, out, "Owner")
	assert.Contains(t, out, `"Authorization":"{redacted}"`)
	assert.Contains(t, out, `"X-Meta-{redacted}":"{redacted}"`)
	assert.Contains(t, out, `"Accept":"application/json"`)

	// The request itself is untouched.
	assert.Equal(t, "Bearer s3cr3t", req.Header.Get("Authorization"))
}

func TestFormatRequest_Body(t *testing.T) {
	f := RequestFmt{BodyFields: []string{"password", "cards.number", "missing.path"}}
	body := []byte(`{"user":"bob","password":"hunter2","cards":[{"number":"4111","exp":"12/30"},{"number":"5500"}],"n":12345678901234567890}`)

	v, err := f.FormatRequest(transport.NewRequest("POST", "/login", body))
	require.NoError(t, err)
	out := render(t, v)

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "4111")
	assert.NotContains(t, out, "5500")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "12/30")
	assert.Contains(t, out, "12345678901234567890")
}

func TestFormatRequest_BodyFieldsIgnoreCase(t *testing.T) {
	f := RequestFmt{BodyFields: []string{"password", "user.token"}}
	body := []byte(`{"Password":"s3cret","PASSWORD":"hunter2","User":{"Token":"abc123","name":"bob"}}`)

	v, err := f.FormatRequest(transport.NewRequest("POST", "/login", body))
	require.NoError(t, err)
	out := render(t, v)

	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "bob")
}

func TestFormatRequest_InvalidBodyIsError(t *testing.T) {
	f := RequestFmt{BodyFields: []string{"password"}}
	_, err := f.FormatRequest(transport.NewRequest("POST", "/", []byte(`password=hunter2`)))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")

	_, err = f.FormatRequest(transport.NewRequest("POST", "/", []byte(`{} {}`)))
	require.Error(t, err)

	_, err = RequestFmt{}.FormatRequest(nil)
	require.Error(t, err)
}

func TestFormatResponse(t *testing.T) {
	f := ResponseFmt{
		Header:     SensitiveHeaders("Set-Cookie"),
		StatusCode: true,
		BodyFields: []string{"token"},
	}
	resp := transport.NewResponse(201, []byte(`{"token":"abc123","id":7}`))
	resp.Header.Set("Set-Cookie", "session=xyz")

	v, err := f.FormatResponse(resp)
	require.NoError(t, err)
	out := render(t, v)

	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "xyz")
	assert.NotContains(t, out, "201")
	assert.Contains(t, out, `"status":"{redacted}"`)
	assert.Contains(t, out, `\"id\":7`)
}

func TestFormatResponse_UnloadedBodyNotRead(t *testing.T) {
	resp := &transport.Response{StatusCode: 200, Body: nopReader{}}
	v, err := ResponseFmt{}.FormatResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, int64(200), groupAttr(t, v, "status").Int64())
	assert.False(t, resp.Loaded())

	_, err = ResponseFmt{}.FormatResponse(nil)
	require.Error(t, err)
}

type nopReader struct{}

func (nopReader) Read([]byte) (int, error) { panic("body must not be read") }
func (nopReader) Close() error             { return nil }

func TestStaticAndNone(t *testing.T) {
	s := Static{Request: RequestFmt{Label: Labels(0)}, Response: ResponseFmt{StatusCode: true}}
	v, err := s.RequestFormatter().FormatRequest(transport.NewRequest("GET", "/secret", nil))
	require.NoError(t, err)
	assert.Equal(t, "/{redacted}", groupAttr(t, v, "uri").String())

	v, err = None.ResponseFormatter().FormatResponse(transport.NewResponse(404, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(404), groupAttr(t, v, "status").Int64())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", MaxLoggedBody+10)
	out := truncate([]byte(long))
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Len(t, strings.TrimSuffix(out, "…"), MaxLoggedBody)

	assert.Equal(t, "<2 bytes>", truncate([]byte{0xff, 0xfe}))
}

func TestMarkerHelpers(t *testing.T) {
	assert.Equal(t, HeaderMarker{Value: true}, SensitiveHeaders("x-api-key")("X-Api-Key"))
	assert.Equal(t, HeaderMarker{}, SensitiveHeaders("x-api-key")("Accept"))
	assert.Equal(t, HeaderMarker{KeySuffix: 7}, PrefixHeaders("x-meta-", true, false)("X-Meta-A"))
	assert.Equal(t, HeaderMarker{}, PrefixHeaders("x-meta-", true, true)("X-Met"))
	assert.Equal(t, QueryMarker{Value: true}, SensitiveQuery("a")("a"))
	assert.False(t, Labels(1)(0))
}
