// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sandbox abstracts the workspace filesystem the artifact store
// writes into. Production deployments back it with a remote sandbox;
// tests and the CLI use the local implementation.
package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes one directory entry.
type FileInfo struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FS is the filesystem capability set consumed by the stores. All paths
// are absolute under the workspace root.
type FS interface {
	MakeDir(ctx context.Context, path string, mode fs.FileMode) error
	UploadFile(ctx context.Context, data []byte, path string) error
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context, path string) ([]FileInfo, error)
}

// LocalFS implements FS over the local filesystem.
type LocalFS struct{}

// NewLocalFS returns a local filesystem adapter.
func NewLocalFS() *LocalFS {
	return &LocalFS{}
}

// MakeDir creates the directory and any missing parents.
func (l *LocalFS) MakeDir(_ context.Context, path string, mode fs.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("make_dir %s: %w", path, err)
	}
	return nil
}

// UploadFile writes data atomically via a temp file and rename.
func (l *LocalFS) UploadFile(_ context.Context, data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("upload_file %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("upload_file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("upload_file %s: %w", path, err)
	}
	return nil
}

// DownloadFile reads the whole file.
func (l *LocalFS) DownloadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("download_file %s: %w", path, err)
	}
	return data, nil
}

// DeleteFile removes the file; deleting a missing file is not an error.
func (l *LocalFS) DeleteFile(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete_file %s: %w", path, err)
	}
	return nil
}

// ListFiles lists direct children of a directory.
func (l *LocalFS) ListFiles(_ context.Context, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list_files %s: %w", path, err)
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, FileInfo{
			Name:    entry.Name(),
			IsDir:   entry.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return infos, nil
}

// Descriptor identifies a project sandbox as stored by the conversation
// store's projects table.
type Descriptor struct {
	ID         string `json:"id"`
	Pass       string `json:"pass,omitempty"`
	VNCPreview string `json:"vnc_preview,omitempty"`
	SandboxURL string `json:"sandbox_url,omitempty"`
	Token      string `json:"token,omitempty"`
}
