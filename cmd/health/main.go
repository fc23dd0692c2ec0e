// Lean backend health probe for scripting and container checks, built on
// fasthttp to keep the binary and per-probe overhead minimal.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("url", os.Getenv("CONVSYNC_BASE_URL"), "backend base URL")
	timeout := flag.Duration("timeout", 5*time.Second, "probe timeout")
	flag.Parse()

	if *base == "" {
		fmt.Fprintln(os.Stderr, "usage: health -url https://host (or CONVSYNC_BASE_URL)")
		os.Exit(2)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(*base, "/") + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)

	c := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}
	if err := c.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "unhealthy: status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Println("ok")
}
