// Package storage persists uploaded sheet images to local disk so the
// analyzer can read them back after the HTTP request has completed.
package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// allowedExtensions lists the image types the analyzer accepts.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Uploads writes incoming multipart files under a base directory, one
// subdirectory per upload batch.
type Uploads struct {
	baseDir string
}

func NewUploads(baseDir string) (*Uploads, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Uploads{baseDir: baseDir}, nil
}

// Save stores one uploaded file for a batch and returns its path on
// disk. The stored name is a fresh UUID; only the extension is taken
// from the client-supplied filename.
func (u *Uploads) Save(batchID string, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}

	dir := filepath.Join(u.baseDir, batchID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

// Remove deletes the given files and their batch directory once
// analysis is finished.
func (u *Uploads) Remove(paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(paths) > 0 {
		// Batch directory is empty once its files are gone.
		os.Remove(filepath.Dir(paths[0]))
	}
	return firstErr
}
