// Package localstate remembers the last session a controller used.
package localstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type State interface {
	SessionID() (string, error)
	SetSessionID(id string) error
	Clear() error
}

var (
	_ State = (*File)(nil)
	_ State = (*Mem)(nil)
)

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pokeroster", "state.yaml"), nil
}

type fileData struct {
	SessionID string `yaml:"session_id"`
}

// File keeps the state in a small YAML document.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

func (f *File) SessionID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.read()
	return d.SessionID, err
}

func (f *File) SetSessionID(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(fileData{SessionID: id})
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *File) read() (fileData, error) {
	var d fileData
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return d, nil
}

func (f *File) write(d fileData) error {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Mem is State without persistence, used for server-side controllers.
type Mem struct {
	mu sync.Mutex
	id string
}

func (m *Mem) SessionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *Mem) SetSessionID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

func (m *Mem) Clear() error { return m.SetSessionID("") }
