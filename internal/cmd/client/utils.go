package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// BaseURLFromEnv returns RTPS_HTTP or the default admin address.
func BaseURLFromEnv() string {
	if v := os.Getenv("RTPS_HTTP"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:7480"
}

// grpcAddrFromEnv returns the gRPC endpoint from RTPS_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("RTPS_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:7410"
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiError is the error body written by the admin server.
type apiError struct {
	Error string `json:"error"`
}

// do issues a request and decodes a JSON response into out when non-nil.
func do(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e apiError
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
