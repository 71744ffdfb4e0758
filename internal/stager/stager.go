// Package stager fetches a job's source archive, extracts it into the
// workspace, and locates the project root.
package stager

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ProjectMarker identifies a directory as the project root.
const ProjectMarker = "Podfile"

// maxRedirectHops bounds manual redirect following on downloads.
const maxRedirectHops = 10

var (
	// ErrDownload is returned when the source archive cannot be fetched.
	ErrDownload = errors.New("download failed")
	// ErrExtraction is returned when the archive cannot be decompressed.
	ErrExtraction = errors.New("extraction failed")
	// ErrProjectNotFound is returned when no directory in the extracted
	// tree contains the project marker file.
	ErrProjectNotFound = errors.New("project root not found")
)

// Stager stages job sources on disk.
type Stager struct {
	httpClient *http.Client
}

// New creates a stager with a bounded-timeout HTTP client. Redirects are
// followed by hand so hop limits and missing Location headers are under
// our control.
func New() *Stager {
	return &Stager{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Download fetches the archive at url into dest, following 301/302/303
// redirects up to maxRedirectHops by re-issuing the request against the
// Location header.
func (s *Stager) Download(ctx context.Context, url, dest string) error {
	current := url

	for hop := 0; hop < maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return fmt.Errorf("%w: invalid url %q: %v", ErrDownload, current, err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDownload, err)
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return fmt.Errorf("%w: redirect from %q missing Location header", ErrDownload, current)
			}
			if ref, err := req.URL.Parse(loc); err == nil {
				current = ref.String()
			} else {
				current = loc
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return fmt.Errorf("%w: status %d from %q", ErrDownload, resp.StatusCode, current)
		}

		err = writeBody(resp.Body, dest)
		resp.Body.Close()
		return err
	}

	return fmt.Errorf("%w: more than %d redirects from %q", ErrDownload, maxRedirectHops, url)
}

func writeBody(body io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrDownload, err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrDownload, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		os.Remove(dest)
		return fmt.Errorf("%w: write body: %v", ErrDownload, err)
	}
	return nil
}

// Extract decompresses the zip archive into destDir, recreating its
// internal directory structure. Directory entries are created before file
// entries are written.
func (s *Stager) Extract(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%w: create destination: %v", ErrExtraction, err)
	}

	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	rel := filepath.FromSlash(entry.Name)
	target := filepath.Join(destDir, rel)

	// Reject entries that escape the destination.
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("%w: illegal path %q", ErrExtraction, entry.Name)
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("%w: create directory %q: %v", ErrExtraction, entry.Name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("%w: create directory for %q: %v", ErrExtraction, entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrExtraction, entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode().Perm()|0600)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrExtraction, entry.Name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrExtraction, entry.Name, err)
	}
	return nil
}

// ResolveProjectRoot walks the extracted tree depth-first in lexicographic
// order and returns the first directory containing the project marker file.
func (s *Stager) ResolveProjectRoot(rootDir string) (string, error) {
	if hasMarker(rootDir) {
		return rootDir, nil
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return "", fmt.Errorf("%w: read %q: %v", ErrProjectNotFound, rootDir, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		found, err := s.ResolveProjectRoot(filepath.Join(rootDir, dir))
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrProjectNotFound) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: no directory under %q contains %s", ErrProjectNotFound, rootDir, ProjectMarker)
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ProjectMarker))
	return err == nil && !info.IsDir()
}
