package notify

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewServer exposes the hub at /ws on its own listener. Fiber runs on fasthttp,
// which cannot hand a hijacked connection to gorilla/websocket.
func NewServer(addr string, hub *Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "notify"),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
