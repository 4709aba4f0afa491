package xrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"string", "hello", "hello"},
		{"empty string", "", ""},
		{"int", 42, int64(42)},
		{"negative int", -7, int64(-7)},
		{"bool true", true, true},
		{"bool false", false, false},
		{"double", 3.5, 3.5},
		{"array", []any{"a", 1, true}, []any{"a", int64(1), true}},
		{"string slice", []string{"x", "y"}, []any{"x", "y"}},
		{
			"struct",
			map[string]any{"code": 0, "msg": "ok"},
			map[string]any{"code": int64(0), "msg": "ok"},
		},
		{
			"nested command batch",
			[][]string{{"tool", "--device", "0"}, {"tool", "--device", "1"}},
			[]any{[]any{"tool", "--device", "0"}, []any{"tool", "--device", "1"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := toValue(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, fromValue(v))
		})
	}
}

func TestToValueUnsupportedType(t *testing.T) {
	_, err := toValue(struct{}{})
	require.Error(t, err)
}

func TestCallRoundTrip(t *testing.T) {
	body, err := marshalCall("start_device", []any{[][]string{{"a", "b"}}})
	require.NoError(t, err)

	method, args, err := unmarshalCall(body)
	require.NoError(t, err)
	assert.Equal(t, "start_device", method)
	require.Len(t, args, 1)
	assert.Equal(t, []any{[]any{"a", "b"}}, args[0])
}

func TestUnmarshalCallRejectsGarbage(t *testing.T) {
	_, _, err := unmarshalCall([]byte("not xml at all"))
	require.Error(t, err)

	_, _, err = unmarshalCall([]byte("<methodCall></methodCall>"))
	require.Error(t, err)
}

func TestFaultRoundTrip(t *testing.T) {
	body := marshalFault(-32601, "method \"nope\" is not supported")

	_, err := unmarshalResponse(body)
	require.Error(t, err)

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, -32601, f.Code)
	assert.Contains(t, f.Reason, "nope")
}

func newTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(u.Hostname(), port, 2*time.Second)
}

func TestServerDispatch(t *testing.T) {
	srv := NewServer()
	srv.Register("echo", func(args []any) (any, error) {
		return args[0], nil
	})
	srv.Register("boom", func(args []any) (any, error) {
		return nil, fmt.Errorf("internal trouble")
	})
	srv.Register("refuse", func(args []any) (any, error) {
		return nil, &Fault{Code: 99, Reason: "not today"}
	})

	client := newTestClient(t, srv)
	ctx := context.Background()

	t.Run("registered method", func(t *testing.T) {
		result, err := client.Call(ctx, "echo", "ping")
		require.NoError(t, err)
		assert.Equal(t, "ping", result)
	})

	t.Run("listMethods includes built-in and registered", func(t *testing.T) {
		methods, err := client.ListMethods(ctx)
		require.NoError(t, err)
		assert.Contains(t, methods, "system.listMethods")
		assert.Contains(t, methods, "echo")
		assert.Contains(t, methods, "boom")
	})

	t.Run("unknown method is a fault, not a transport error", func(t *testing.T) {
		_, err := client.Call(ctx, "missing")
		var f *Fault
		require.True(t, errors.As(err, &f))
		assert.Equal(t, faultMethodNotFound, f.Code)
	})

	t.Run("handler error maps to internal fault", func(t *testing.T) {
		_, err := client.Call(ctx, "boom")
		var f *Fault
		require.True(t, errors.As(err, &f))
		assert.Equal(t, faultInternal, f.Code)
		assert.Contains(t, f.Reason, "internal trouble")
	})

	t.Run("handler fault passes through unchanged", func(t *testing.T) {
		_, err := client.Call(ctx, "refuse")
		var f *Fault
		require.True(t, errors.As(err, &f))
		assert.Equal(t, 99, f.Code)
		assert.Equal(t, "not today", f.Reason)
	})
}

func TestServerRejectsGet(t *testing.T) {
	ts := httptest.NewServer(NewServer())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, 405, resp.StatusCode)
}

func TestIntCoercion(t *testing.T) {
	n, ok := Int(int64(5))
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	n, ok = Int("12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = Int(nil)
	assert.False(t, ok)
}

func TestStringsCoercion(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Strings([]any{"a", "b"}))
	assert.Equal(t, []string{"a"}, Strings([]any{"a", int64(1)}))
	assert.Nil(t, Strings("not an array"))
}
