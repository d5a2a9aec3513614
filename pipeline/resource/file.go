package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is a resource loaded from disk or over HTTP.
type File struct {
	// Path is the location the resource was loaded from.
	Path string

	// Data is the decoded content: map/slice/scalar values for structured
	// formats, a string for text, raw bytes otherwise.
	Data any

	ModTime time.Time
}

// Name returns the base name of Path.
func (f *File) Name() string {
	return filepath.Base(f.Path)
}

// LastModified returns the modification time of the source.
func (f *File) LastModified() time.Time {
	return f.ModTime
}

// Derivation describes where the data came from.
func (f *File) Derivation() string {
	return "file:" + f.Path
}

// Value returns the decoded content.
func (f *File) Value() any {
	return f.Data
}

// Decoder turns raw bytes into a value.
type Decoder func(data []byte) (any, error)

// DefaultDecoders maps lower-case file extensions to decoders.
func DefaultDecoders() map[string]Decoder {
	return map[string]Decoder{
		".json": decodeJSON,
		".yaml": decodeYAML,
		".yml":  decodeYAML,
		".toml": decodeTOML,
		".txt":  decodeText,
	}
}

func decodeJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeYAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeTOML(data []byte) (any, error) {
	v := map[string]any{}
	if err := toml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeText(data []byte) (any, error) {
	return string(data), nil
}

// FileLoader resolves names to files under Root. The extension of the name
// picks the decoder; unknown extensions load raw bytes.
type FileLoader struct {
	Root     string
	Decoders map[string]Decoder
}

// NewFileLoader creates a loader rooted at root with DefaultDecoders.
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{Root: root, Decoders: DefaultDecoders()}
}

// Lookup implements Resolver. Relative names are joined to Root; absolute
// names are used as they are. Missing files and directories return
// ErrNotFound.
func (l *FileLoader) Lookup(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := name
	if !filepath.IsAbs(path) && l.Root != "" {
		path = filepath.Join(l.Root, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory: %w", name, ErrNotFound)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	data, err := l.decode(path, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", path, err)
	}
	return &File{Path: path, Data: data, ModTime: info.ModTime()}, nil
}

func (l *FileLoader) decode(path string, raw []byte) (any, error) {
	decoders := l.Decoders
	if decoders == nil {
		decoders = DefaultDecoders()
	}
	if dec, ok := decoders[strings.ToLower(filepath.Ext(path))]; ok {
		return dec(raw)
	}
	return raw, nil
}
