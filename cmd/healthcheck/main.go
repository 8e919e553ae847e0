// Command healthcheck probes the service for container HEALTHCHECK use. It
// exits non-zero unless the probe answers 200.
//
//	healthcheck            # GET /healthz
//	healthcheck -ready     # GET /readyz
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	flag.Parse()
	if err := probe(context.Background(), baseURL(os.Getenv("HTTP_ADDR")), *ready); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

// baseURL turns HTTP_ADDR (":8080", "0.0.0.0:9000") into a loopback URL.
func baseURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost:" + addr[strings.LastIndex(addr, ":")+1:]
	}
	return "http://" + addr
}

func probe(ctx context.Context, base string, ready bool) error {
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return &statusError{path: path, code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	path string
	code int
}

func (e *statusError) Error() string { return e.path + " returned " + http.StatusText(e.code) }
