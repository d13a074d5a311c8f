package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/owsgate/internal/ports/output"
)

// HTTPStorage implements ObjectStorage over plain HTTP(S). Objects are
// enumerated from an index file listing one key per line, optionally
// followed by whitespace and the object size.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List returns the index entries starting with prefix.
func (s *HTTPStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	resp, err := s.do(ctx, http.MethodGet, s.indexFile)
	if err != nil {
		return nil, fmt.Errorf("fetching index file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index file returned status %d", resp.StatusCode)
	}
	objects, err := parseIndex(resp.Body, prefix)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	return objects, nil
}

func parseIndex(r io.Reader, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key := strings.TrimPrefix(fields[0], "/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := output.StorageObject{Key: key}
		if len(fields) > 1 {
			if size, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				obj.Size = size
			}
		}
		objects = append(objects, obj)
	}
	return objects, scanner.Err()
}

// Download downloads a file to the local filesystem.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetReader returns a reader for the given file.
func (s *HTTPStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, key)
	}
	return resp.Body, nil
}

// Exists checks if a file exists via HTTP HEAD request.
func (s *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, key)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	}
	return false, fmt.Errorf("HTTP %d for %s", resp.StatusCode, key)
}

func (s *HTTPStorage) do(ctx context.Context, method, key string) (*http.Response, error) {
	k, ok := cleanKey(key)
	if !ok {
		return nil, fmt.Errorf("key %q escapes the storage root", key)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+k, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return s.client.Do(req)
}

var _ output.ObjectStorage = (*HTTPStorage)(nil)
