package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestFallsBackToDefault(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest(), m)
}

func TestLoadManifestOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	data := []byte(`
version: v2
files:
  detector: det.onnx
  siamese: sim.onnx
urls:
  detector: http://example.com/det.onnx
  siamese: http://example.com/sim.onnx
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", m.Version)
	assert.Equal(t, "det.onnx", m.Files.Detector)

	dataDir := t.TempDir()
	detector, siamese := m.Paths(dataDir)
	assert.Equal(t, filepath.Join(dataDir, "models", "icp", "v2", "det.onnx"), detector)
	assert.Equal(t, filepath.Join(dataDir, "models", "icp", "v2", "sim.onnx"), siamese)
	assert.False(t, m.Present(dataDir))
}

func testManifest(srvURL string) Manifest {
	return Manifest{
		Version: "vtest",
		Files:   FilePair{Detector: "det.onnx", Siamese: "sim.onnx"},
		URLs:    FilePair{Detector: srvURL + "/det.onnx", Siamese: srvURL + "/sim.onnx"},
	}
}

func TestDownloadFetchesMissingFiles(t *testing.T) {
	payload := map[string][]byte{
		"/det.onnx": []byte("detector-bytes"),
		"/sim.onnx": []byte("siamese-bytes"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := payload[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	m := testManifest(srv.URL)
	dataDir := t.TempDir()

	var progressed bool
	err := NewDownloader().Download(context.Background(), m, dataDir, func(fraction float64, _ string) {
		progressed = true
		assert.GreaterOrEqual(t, fraction, 0.0)
		assert.LessOrEqual(t, fraction, 1.0)
	})
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.True(t, m.Present(dataDir))

	detector, siamese := m.Paths(dataDir)
	got, err := os.ReadFile(detector)
	require.NoError(t, err)
	assert.Equal(t, []byte("detector-bytes"), got)
	got, err = os.ReadFile(siamese)
	require.NoError(t, err)
	assert.Equal(t, []byte("siamese-bytes"), got)

	// No stray partial files.
	assert.NoFileExists(t, detector+".part")
}

func TestDownloadSkipsPresentFiles(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	m := testManifest(srv.URL)
	dataDir := t.TempDir()
	detector, siamese := m.Paths(dataDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(detector), 0o755))
	require.NoError(t, os.WriteFile(detector, []byte("already here"), 0o644))
	require.NoError(t, os.WriteFile(siamese, []byte("also here"), 0o644))

	require.NoError(t, NewDownloader().Download(context.Background(), m, dataDir, nil))
	assert.Zero(t, hits, "present files must not be re-downloaded")
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	good := sha256.Sum256([]byte("expected"))
	m := testManifest(srv.URL)
	m.SHA256 = &FilePair{
		Detector: hex.EncodeToString(good[:]),
		Siamese:  hex.EncodeToString(good[:]),
	}

	dataDir := t.TempDir()
	err := NewDownloader().Download(context.Background(), m, dataDir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	// The mismatched file must not be left behind.
	assert.False(t, m.Present(dataDir))
}

func TestDownloadSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDownloader().Download(context.Background(), testManifest(srv.URL), t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
