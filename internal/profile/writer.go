package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	ini "gopkg.in/ini.v1"
)

const (
	permDir  = 0o700
	permFile = 0o600
)

// Writer updates profile sections in-place, preserving unrelated sections
// and comments. It is the inverse of the store's reader: a profile written
// here reads back with the same key/value set.
type Writer struct {
	Path string
	Kind FileKind
}

// NewWriter creates a writer for the given file.
func NewWriter(path string, kind FileKind) *Writer {
	return &Writer{Path: path, Kind: kind}
}

// WriteProfile creates or replaces the named profile section. Keys are
// written in sorted order; keys absent from props are removed from an
// existing section.
func (w *Writer) WriteProfile(name string, props map[string]string) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}

	if err := os.MkdirAll(filepath.Dir(w.Path), permDir); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	cfg, err := ini.Load(w.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", w.Path, err)
		}
		cfg = ini.Empty()
	}

	sectionName := w.sectionName(name)
	cfg.DeleteSection(sectionName)
	section, err := cfg.NewSection(sectionName)
	if err != nil {
		return fmt.Errorf("creating section %q: %w", sectionName, err)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		section.Key(k).SetValue(props[k])
	}

	if err := cfg.SaveTo(w.Path); err != nil {
		return fmt.Errorf("writing %s: %w", w.Path, err)
	}
	return os.Chmod(w.Path, permFile)
}

// DeleteProfile removes the named profile section if present.
func (w *Writer) DeleteProfile(name string) error {
	cfg, err := ini.Load(w.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", w.Path, err)
	}

	cfg.DeleteSection(w.sectionName(name))
	if err := cfg.SaveTo(w.Path); err != nil {
		return fmt.Errorf("writing %s: %w", w.Path, err)
	}
	return nil
}

// sectionName applies the file-kind header convention: config files use
// "profile <name>" except for default, credentials files use the bare name.
func (w *Writer) sectionName(name string) string {
	if w.Kind == KindConfig && name != defaultProfileName {
		return profileHeaderPrefix + name
	}
	return name
}
