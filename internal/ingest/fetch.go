package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/elyos/internal/htmlutil"
	"github.com/lox/elyos/internal/metrics"
)

// ErrFetch marks a failure to obtain a raw dataset from its source.
var ErrFetch = errors.New("fetch failed")

// Fetcher retrieves one raw dataset and persists it at dest unmodified.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, dest string) error
}

// Job pairs a fetcher with the artifact path it writes.
type Job struct {
	Fetcher Fetcher
	Dest    string
}

// FetchAll runs every job in order. A failing job is logged and does not stop
// the others; all failures are returned joined.
func FetchAll(ctx context.Context, jobs []Job) error {
	var errs []error
	for _, job := range jobs {
		name := job.Fetcher.Name()
		log.Printf("fetch: %s -> %s", name, job.Dest)
		if err := job.Fetcher.Fetch(ctx, job.Dest); err != nil {
			log.Printf("fetch: %s failed: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		log.Printf("fetch: %s saved to %s", name, job.Dest)
	}
	return errors.Join(errs...)
}

// httpSource is the retrying GET shared by the HTTP fetchers.
type httpSource struct {
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func newHTTPSource(client *http.Client) httpSource {
	return httpSource{
		client: client,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// get returns the body of a 200 response. Rate limiting and gateway errors
// are retried with backoff; anything else fails at once.
func (h httpSource) get(ctx context.Context, source, url string) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.FetchLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		resp, err := h.client.Do(req)
		if err != nil {
			metrics.FetchCallsTotal.WithLabelValues(source, "error").Inc()
			return backoff.Permanent(fmt.Errorf("get %s: %w", url, err))
		}
		defer resp.Body.Close()
		metrics.FetchCallsTotal.WithLabelValues(source, strconv.Itoa(resp.StatusCode)).Inc()

		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, errorBody(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(h.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return body, nil
}

// errorBody flattens an error page to one line of text.
func errorBody(b []byte) string {
	return strings.Join(strings.Fields(htmlutil.ToText(string(b))), " ")
}

// writeFileAtomic writes through a temp file in the destination directory so
// a failed write never leaves a partial artifact behind.
func writeFileAtomic(dest string, write func(w io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename to %s: %w", dest, err)
	}
	return nil
}
