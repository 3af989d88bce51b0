package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/elyos/internal/metrics"
)

// WineFetcher downloads the wine quality archive as-is. The source may be an
// http(s) URL or an ftp:// mirror.
type WineFetcher struct {
	httpSource
	source string
}

func NewWineFetcher(client *http.Client, source string) *WineFetcher {
	return &WineFetcher{httpSource: newHTTPSource(client), source: source}
}

func (f *WineFetcher) Name() string { return "wine" }

func (f *WineFetcher) Fetch(ctx context.Context, dest string) error {
	u, err := url.Parse(f.source)
	if err != nil {
		return fmt.Errorf("%w: parse source %q: %w", ErrFetch, f.source, err)
	}

	var body []byte
	switch u.Scheme {
	case "http", "https":
		body, err = f.get(ctx, f.Name(), f.source)
	case "ftp":
		body, err = fetchFTP(ctx, u)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrFetch, u.Scheme)
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty wine archive", ErrFetch)
	}

	return writeFileAtomic(dest, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
}

func fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.FetchLatency.WithLabelValues("wine_ftp").Observe(time.Since(start).Seconds())
	}()

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		metrics.FetchCallsTotal.WithLabelValues("wine_ftp", "error").Inc()
		return nil, fmt.Errorf("%w: ftp dial: %w", ErrFetch, err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		metrics.FetchCallsTotal.WithLabelValues("wine_ftp", "error").Inc()
		return nil, fmt.Errorf("%w: ftp login: %w", ErrFetch, err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		metrics.FetchCallsTotal.WithLabelValues("wine_ftp", "error").Inc()
		return nil, fmt.Errorf("%w: ftp retr %s: %w", ErrFetch, u.Path, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: ftp read: %w", ErrFetch, err)
	}
	metrics.FetchCallsTotal.WithLabelValues("wine_ftp", "ok").Inc()
	return body, nil
}
