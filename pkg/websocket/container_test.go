package websocket_test

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/websocket"
)

func serve(t *testing.T, c *websocket.Container) string {
	t.Helper()
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestContainer_TextEcho(t *testing.T) {
	t.Parallel()

	c := websocket.NewContainer("/echo")
	c.OnMessage(func(cl *websocket.Client, msg any) {
		_ = cl.Send("echo: " + msg.(string))
	})

	conn := dial(t, serve(t, c))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("hi")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", string(data))
	assert.Equal(t, 1, c.Online())
}

func TestContainer_JSON(t *testing.T) {
	t.Parallel()

	got := make(chan any, 1)
	c := websocket.NewContainer("/json", websocket.WithType(websocket.TypeJSON))
	c.OnMessage(func(_ *websocket.Client, msg any) { got <- msg })

	conn := dial(t, serve(t, c))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"a":1}`)))

	select {
	case msg := <-got:
		assert.Equal(t, map[string]any{"a": float64(1)}, msg)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	n, err := c.Send(map[string]int{"b": 2}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(data))
}

func TestContainer_EncodeDecode(t *testing.T) {
	t.Parallel()

	c := websocket.NewContainer("/enc", websocket.WithEncodeDecode(true))
	c.OnMessage(func(cl *websocket.Client, msg any) { _ = cl.Send(msg) })

	conn := dial(t, serve(t, c))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("a%20b")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "a%20b", string(data))
}

func TestContainer_MaxLength(t *testing.T) {
	t.Parallel()

	errs := make(chan error, 1)
	c := websocket.NewContainer("/small", websocket.WithMaxLength(16))
	c.OnError(func(_ *websocket.Client, err error) { errs <- err })

	conn := dial(t, serve(t, c))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(strings.Repeat("x", 64))))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "Maximum request length exceeded.")
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}

	_, _, err := conn.ReadMessage()
	var closeErr *gws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTooBig, closeErr.Code)
}

func TestContainer_SendFilters(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		ids []string
	)
	c := websocket.NewContainer("/room")
	c.OnOpen(func(cl *websocket.Client) {
		mu.Lock()
		ids = append(ids, cl.ID())
		mu.Unlock()
	})

	url := serve(t, c)
	dial(t, url)
	dial(t, url)
	require.Eventually(t, func() bool { return c.Online() == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	first := ids[0]
	mu.Unlock()

	n, err := c.Send("all but first", nil, websocket.IDs(first))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Send("only first", websocket.Match(func(id string, _ *websocket.Client) bool { return id == first }), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cl, ok := c.Find(first)
	require.True(t, ok)
	assert.Equal(t, first, cl.ID())
	assert.Len(t, c.All(), 2)

}

func TestContainer_PingCheck(t *testing.T) {
	t.Parallel()

	c := websocket.NewContainer("/ping")
	url := serve(t, c)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return c.Online() == 1 }, time.Second, 5*time.Millisecond)

	// gorilla answers pings while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	c.Ping()
	require.Eventually(t, func() bool {
		cl := c.All()
		return len(cl) == 1 && cl[0].Alive()
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Check())
}

func TestContainer_CloseAndAutoDestroy(t *testing.T) {
	t.Parallel()

	destroyed := make(chan struct{})
	closed := make(chan struct{}, 1)
	c := websocket.NewContainer("/auto")
	c.OnClose(func(*websocket.Client) { closed <- struct{}{} })
	c.AutoDestroy(20*time.Millisecond, func() { close(destroyed) })

	conn := dial(t, serve(t, c))
	require.Eventually(t, func() bool { return c.Online() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, c.Close(nil, "bye", websocket.CloseNormal))

	_, _, err := conn.ReadMessage()
	var closeErr *gws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormal, closeErr.Code)
	assert.Equal(t, "bye", closeErr.Text)

	<-closed
	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("container not destroyed")
	}
	assert.True(t, c.Destroyed())
}

func TestContainer_RejectsVersion8(t *testing.T) {
	t.Parallel()

	c := websocket.NewContainer("/v8")
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := "GET /v8 HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 8\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "403 Forbidden", resp.Header.Get("X-WebSocket-Reject-Reason"))
	assert.Zero(t, c.Online())
}
