package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/config"
)

func TestNewHTTPServer(t *testing.T) {
	handler := http.NotFoundHandler()
	httpServer := newHTTPServer(&config.Config{Port: "9999"}, handler)

	assert.Equal(t, ":9999", httpServer.Addr)
	assert.NotNil(t, httpServer.Handler)
	assert.Equal(t, 10*time.Second, httpServer.ReadHeaderTimeout)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	httpServer := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, httpServer)
	}()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeReportsListenErrors(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	defer listener.Close()

	httpServer := &http.Server{Addr: listener.Addr().String(), Handler: http.NotFoundHandler()}
	err = serve(context.Background(), httpServer)
	assert.Error(t, err)
}
