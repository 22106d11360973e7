// Package testutil provides shared test helpers: a broker served over
// httptest, polling waits and a manually advanced clock.
package testutil

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/broker"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

var (
	// Default logger for tests
	defaultSlogHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
	DefaultLogger = slog.New(defaultSlogHandler)
)

// BrokerServer combines a broker and its HTTP server for testing.
type BrokerServer struct {
	*broker.Broker
	HTTP  *httptest.Server
	WSURL string // ws:// address of the control endpoint
}

// NewBrokerServer creates a broker mounted at mcproto.DefaultPath on an
// httptest.Server. Both are shut down when the test ends.
func NewBrokerServer(t *testing.T, opts ...broker.Option) *BrokerServer {
	t.Helper()

	finalOpts := append([]broker.Option{broker.WithLogger(DefaultLogger), broker.WithPingInterval(-1)}, opts...)
	b, err := broker.New(finalOpts...)
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(mcproto.DefaultPath, b.UpgradeHandler())
	srv := httptest.NewServer(mux)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + mcproto.DefaultPath

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Shutdown(ctx)
		srv.Close()
	})

	return &BrokerServer{Broker: b, HTTP: srv, WSURL: wsURL}
}
