package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/kfcemployee/filesrv/internal/config"
	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = "<html><body>filesrv</body></html>\n"

type testServer struct {
	*Server
	reg  *prometheus.Registry
	logs *syncBuffer
}

func start(t *testing.T, mutate func(c *config.Config)) *testServer {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte(page), 0o644))
	big := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "private.html"), []byte("x"), 0o600))
	require.NoError(t, os.Chmod(filepath.Join(root, "private.html"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DocRoot = root
	cfg.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}

	reg := prometheus.NewRegistry()
	logs := &syncBuffer{}
	s, err := New(cfg, Deps{
		Logger:  logging.New(logs, logiface.LevelDebug),
		Metrics: metrics.New(reg),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-s.Running()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &testServer{Server: s, reg: reg, logs: logs}
}

func (s *testServer) addr() string { return fmt.Sprintf("127.0.0.1:%d", s.Port()) }

func (s *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", s.addr())
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { c.Close() })
	return c
}

func get(t *testing.T, c net.Conn, br *bufio.Reader, target string, keepAlive bool) (*http.Response, []byte) {
	t.Helper()
	req := "GET " + target + " HTTP/1.1\r\nHost: test\r\n"
	if keepAlive {
		req += "Connection: keep-alive\r\n"
	}
	_, err := io.WriteString(c, req+"\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServer_statusCodes(t *testing.T) {
	s := start(t, nil)

	tests := []struct {
		target string
		code   int
	}{
		{"/index.html", 200},
		{"/missing.html", 404},
		{"/private.html", 403},
		{"/dir", 400},
		{"/../index.html", 403},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			c := s.dial(t)
			resp, body := get(t, c, bufio.NewReader(c), tt.target, false)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.EqualValues(t, len(body), resp.ContentLength)
			if tt.code == 200 {
				assert.Equal(t, page, string(body))
			}
		})
	}

	assert.Equal(t, 1.0, counterValue(t, s.reg, "filesrv_http_responses_total", "200"))
	assert.Equal(t, 2.0, counterValue(t, s.reg, "filesrv_http_responses_total", "403"))
}

func TestServer_bigFile(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)

	resp, body := get(t, c, bufio.NewReader(c), "/big.bin", false)
	require.Equal(t, 200, resp.StatusCode)
	want, err := os.ReadFile(filepath.Join(s.cfg.DocRoot, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, len(want), len(body))
	assert.True(t, bytes.Equal(want, body))
}

func TestServer_unsupportedMethod(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)

	_, err := io.WriteString(c, "POST / HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestServer_keepAlive(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)
	br := bufio.NewReader(c)

	resp, body := get(t, c, br, "/index.html", true)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, page, string(body))
	assert.False(t, resp.Close)

	// second request on the same socket sees none of the first
	resp, _ = get(t, c, br, "/missing.html", true)
	assert.Equal(t, 404, resp.StatusCode)
	assert.False(t, resp.Close)

	// a directory is a 400 but the conn stays up as asked
	resp, _ = get(t, c, br, "/dir", true)
	assert.Equal(t, 400, resp.StatusCode)
	assert.False(t, resp.Close)

	resp, body = get(t, c, br, "/index.html", false)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, page, string(body))
	assert.True(t, resp.Close)

	_, err := br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_splitRequest(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)

	for _, part := range []string{"GET /index", ".html HTTP/1.1\r\n", "Host: x\r\n", "\r\n"} {
		_, err := io.WriteString(c, part)
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
	}
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, page, string(body))
}

func TestServer_pipelined(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)

	_, err := io.WriteString(c, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
		"GET /missing HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"+
		"GET /index.html HTTP/1.1\r\n\r\n")
	require.NoError(t, err)

	br := bufio.NewReader(c)
	for _, want := range []int{200, 404, 200} {
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		_, err = io.Copy(io.Discard, resp.Body)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode)
	}
}

func TestServer_netHTTPClient(t *testing.T) {
	s := start(t, nil)
	client := &http.Client{Timeout: 10 * time.Second}

	for range 3 {
		resp, err := client.Get("http://" + s.addr() + "/index.html")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, page, string(body))
	}
}

func TestServer_idleConnectionClosed(t *testing.T) {
	s := start(t, func(c *config.Config) {
		c.TickInterval = config.Duration{Duration: 10 * time.Millisecond}
		c.IdleTimeout = config.Duration{Duration: 50 * time.Millisecond}
		c.ActiveTimeout = config.Duration{Duration: 50 * time.Millisecond}
	})
	c := s.dial(t)

	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		return counterValue(t, s.reg, "filesrv_conn_closed_total", metrics.ReasonIdle) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestServer_oversizedRequest(t *testing.T) {
	s := start(t, func(c *config.Config) { c.ReadBufferSize = 128 })
	c := s.dial(t)

	_, err := io.WriteString(c, "GET /index.html HTTP/1.1\r\nX-Pad: "+strings.Repeat("a", 512)+"\r\n\r\n")
	require.NoError(t, err)
	_, err = io.ReadAll(c)
	// closed without a response, possibly with a reset
	if err != nil {
		assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
	}
}

func TestNew_invalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_portInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	cfg.DocRoot = t.TempDir()
	_, err = New(cfg, Deps{})
	assert.Error(t, err)
}

func TestServer_logs(t *testing.T) {
	s := start(t, nil)
	c := s.dial(t)
	get(t, c, bufio.NewReader(c), "/index.html", false)

	require.Eventually(t, func() bool {
		return strings.Contains(s.logs.String(), `"message":"response built"`)
	}, 5*time.Second, 5*time.Millisecond)
	assert.Contains(t, s.logs.String(), `"message":"reactor started"`)
}
