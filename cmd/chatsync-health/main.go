package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const relayTimeout = 2 * time.Second

// Probe sidecar for deployments whose checks cannot reach the relay's main
// listener (TLS, auth gateway). /healthz answers locally; /readyz asks the
// relay itself, so it reflects the store and blob root state the same way
// the relay's own readiness endpoint does.
func main() {
	addr := flag.String("addr", ":8081", "listen address for the probe")
	relay := flag.String("relay", "http://127.0.0.1:8080", "relay base URL for readiness checks")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  relayTimeout,
		WriteTimeout: relayTimeout,
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":%q}", *ver))
		case "/readyz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			status, body, err := client.GetTimeout(nil, *relay+"/readyz", relayTimeout)
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString("{\"status\":\"relay unreachable\"}")
				return
			}
			ctx.SetStatusCode(status)
			_, _ = ctx.Write(body)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("chatsync probe listening on %s (relay %s)\n", *addr, *relay)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "chatsync-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("fasthttp server exit: %v\n", err)
	}
}
