package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"icplookup/internal/logging"
)

// ProgressFunc receives overall download progress in [0,1] and a
// human-readable status line.
type ProgressFunc func(fraction float64, message string)

// Downloader fetches missing model files.
type Downloader struct {
	httpClient *http.Client
}

// NewDownloader returns a downloader with a generous timeout; model
// files run to tens of megabytes.
func NewDownloader() *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Download fetches whichever of the manifest's files are missing under
// dataDir. Already-present files are skipped. Files are written to a
// .part temp name and renamed only after the body and checksum are
// complete, so an interrupted download never leaves a truncated model.
func (d *Downloader) Download(ctx context.Context, m Manifest, dataDir string, progress ProgressFunc) error {
	detectorPath, siamesePath := m.Paths(dataDir)
	if err := os.MkdirAll(filepath.Dir(detectorPath), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	type job struct {
		label string
		url   string
		path  string
		sum   string
	}
	var jobs []job
	if !fileExists(detectorPath) {
		sum := ""
		if m.SHA256 != nil {
			sum = m.SHA256.Detector
		}
		jobs = append(jobs, job{"detection model", m.URLs.Detector, detectorPath, sum})
	}
	if !fileExists(siamesePath) {
		sum := ""
		if m.SHA256 != nil {
			sum = m.SHA256.Siamese
		}
		jobs = append(jobs, job{"similarity model", m.URLs.Siamese, siamesePath, sum})
	}
	if len(jobs) == 0 {
		if progress != nil {
			progress(1, "models already present")
		}
		return nil
	}

	for i, j := range jobs {
		if progress != nil {
			progress(float64(i)/float64(len(jobs)), fmt.Sprintf("downloading %s (%d/%d)", j.label, i+1, len(jobs)))
		}
		logging.Models("downloading %s from %s", j.label, j.url)

		if err := d.fetchOne(ctx, j.url, j.path, func(done, total int64) {
			if progress == nil || total <= 0 {
				return
			}
			fileFrac := float64(done) / float64(total)
			progress((float64(i)+fileFrac)/float64(len(jobs)),
				fmt.Sprintf("downloading %s: %dMB / %dMB", j.label, done>>20, total>>20))
		}); err != nil {
			return fmt.Errorf("download %s: %w", j.label, err)
		}
		if err := verifyChecksum(j.path, j.sum); err != nil {
			os.Remove(j.path)
			return err
		}
	}

	if progress != nil {
		progress(1, "model download complete")
	}
	return nil
}

func (d *Downloader) fetchOne(ctx context.Context, url, path string, onChunk func(done, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected http status %d", resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	total := resp.ContentLength
	var done int64
	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
			done += int64(n)
			onChunk(done, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmp)
			return readErr
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
