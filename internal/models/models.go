// Package models manages the two ONNX model files the solving pipeline
// needs: manifest lookup, on-disk layout, and downloading.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes one released model pair.
type Manifest struct {
	Version string    `yaml:"version"`
	Files   FilePair  `yaml:"files"`
	URLs    FilePair  `yaml:"urls"`
	SHA256  *FilePair `yaml:"sha256,omitempty"`
}

// FilePair names the detection and similarity halves of a release.
type FilePair struct {
	Detector string `yaml:"detector"`
	Siamese  string `yaml:"siamese"`
}

// DefaultManifest is the built-in release used when no manifest file
// overrides it.
func DefaultManifest() Manifest {
	return Manifest{
		Version: "v1",
		Files: FilePair{
			Detector: "ibig.onnx",
			Siamese:  "isma.onnx",
		},
		URLs: FilePair{
			Detector: "https://mirror.ghproxy.com/https://github.com/ravizhan/ICP-spider/releases/download/model/ibig.onnx",
			Siamese:  "https://mirror.ghproxy.com/https://github.com/ravizhan/ICP-spider/releases/download/model/isma.onnx",
		},
	}
}

// LoadManifest reads a manifest override from path, or returns the
// default when the file does not exist.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultManifest(), nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	m := DefaultManifest()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Files.Detector == "" || m.Files.Siamese == "" {
		return Manifest{}, fmt.Errorf("manifest %s names no model files", path)
	}
	return m, nil
}

// Paths resolves the on-disk locations of the model pair under dataDir.
// Layout is dataDir/models/icp/<version>/<file>.
func (m Manifest) Paths(dataDir string) (detector, siamese string) {
	dir := filepath.Join(dataDir, "models", "icp", m.Version)
	return filepath.Join(dir, m.Files.Detector), filepath.Join(dir, m.Files.Siamese)
}

// Present reports whether both model files exist under dataDir.
func (m Manifest) Present(dataDir string) bool {
	detector, siamese := m.Paths(dataDir)
	return fileExists(detector) && fileExists(siamese)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// verifyChecksum compares the file's sha256 against want. An empty want
// skips verification; the default manifest carries no checksums.
func verifyChecksum(path, want string) error {
	if want == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want)
	}
	return nil
}
