package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// Downloader fetches missing model assets over HTTP.
type Downloader struct {
	urlTemplate string
	files       []string
	httpClient  *http.Client
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewDownloader creates a downloader for the default asset files. urlTemplate
// must contain a {file} placeholder.
func NewDownloader(urlTemplate string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Downloader {
	return &Downloader{
		urlTemplate: urlTemplate,
		files:       DefaultFiles.Names(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Ensure downloads every asset missing from dir. Files already present are
// left untouched.
func (d *Downloader) Ensure(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}
	for _, name := range d.files {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil {
			d.metrics.AssetDownloads.WithLabelValues("skipped").Inc()
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}

		u := strings.ReplaceAll(d.urlTemplate, "{file}", name)
		d.logger.Info("downloading asset", "url", u, "path", dest)
		start := time.Now()
		n, err := d.fetch(ctx, u, dest)
		if err != nil {
			d.metrics.AssetDownloads.WithLabelValues("error").Inc()
			return err
		}
		d.metrics.AssetDownloads.WithLabelValues("success").Inc()
		d.logger.Info("asset downloaded",
			"path", dest,
			"size", humanize.Bytes(uint64(n)),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, u, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("download %s: status %d: %s", u, resp.StatusCode, body)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename %s: %w", dest, err)
	}
	return n, nil
}
