package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/time/rate"
)

// Fetcher transfers one artifact to a local destination file. Progress
// is reported as (done, total) bytes; total may be zero when unknown.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, progress func(done, total int64)) error
}

// HTTPFetcher fetches artifacts over HTTP with an optional transfer
// rate limit shared across concurrent downloads, so model downloads
// don't saturate the device link.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

const fetchChunkSize = 64 * 1024

// NewHTTPFetcher creates a fetcher. bytesPerSec <= 0 disables
// throttling.
func NewHTTPFetcher(bytesPerSec int64) *HTTPFetcher {
	f := &HTTPFetcher{client: &http.Client{}}
	if bytesPerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), fetchChunkSize)
	}
	return f
}

// Fetch downloads url into dest, creating or truncating it. The caller
// is responsible for placing dest outside the final install location
// until the transfer completes.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string, progress func(done, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close() //nolint:errcheck

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	var done int64
	buf := make([]byte, fetchChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read body: %w", readErr)
		}
	}
	return out.Sync()
}
