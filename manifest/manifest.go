// Package manifest generates the C header that embeds WASM container images
// into a firmware build. Each image is linked in as a binary blob; the header
// declares the linker symbols and a name/data table over them.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
)

// Template placeholders.
const (
	TokenExternDeclarations = "@EXTERN_DECLARATIONS@"
	TokenCount              = "@COUNT@"
	TokenManifestEntries    = "@MANIFEST_ENTRIES@"
	TokenSizeCalculations   = "@SIZE_CALCULATIONS@"
)

var (
	ErrTemplateNotFound = errors.New("template file not found")
	ErrNoNames          = errors.New("no wasm names given")
)

// Entry is one embedded image.
type Entry struct {
	Name   string // as given, used in the table
	Symbol string // sanitized base for the linker symbols
}

// Start is the linker symbol for the first byte of the image.
func (e Entry) Start() string {
	return "_binary_" + e.Symbol + "_wasm_start"
}

// End is the linker symbol one past the last byte of the image.
func (e Entry) End() string {
	return "_binary_" + e.Symbol + "_wasm_end"
}

// Options controls optional parts of the output.
type Options struct {
	// OmitSizes leaves the size lookup block empty, for toolchains that
	// expose the image size some other way.
	OmitSizes bool
}

// Sanitize maps a container name to a valid linker symbol fragment.
func Sanitize(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

// Entries builds the table entries for names, preserving order.
func Entries(names []string) ([]Entry, error) {
	if len(names) == 0 {
		return nil, ErrNoNames
	}
	entries := make([]Entry, len(names))
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("wasm name %d is empty", i)
		}
		entries[i] = Entry{Name: n, Symbol: Sanitize(n)}
	}
	return entries, nil
}

// Generate fills template with declarations, table entries and size lookups
// for names. The output depends only on its inputs.
func Generate(names []string, template string, opts Options) (string, error) {
	entries, err := Entries(names)
	if err != nil {
		return "", err
	}

	sizes := ""
	if !opts.OmitSizes {
		sizes = sizeCalculations(entries)
	}

	r := strings.NewReplacer(
		TokenExternDeclarations, externDeclarations(entries),
		TokenCount, strconv.Itoa(len(entries)),
		TokenManifestEntries, manifestEntries(entries),
		TokenSizeCalculations, sizes,
	)
	return r.Replace(template), nil
}

func externDeclarations(entries []Entry) string {
	lines := make([]string, 0, 3*len(entries))
	for _, e := range entries {
		lines = append(lines,
			"// "+e.Name,
			"extern const uint8_t "+e.Start()+"[];",
			"extern const uint8_t "+e.End()+"[];",
		)
	}
	return strings.Join(lines, "\n")
}

func manifestEntries(entries []Entry) string {
	items := make([]string, len(entries))
	for i, e := range entries {
		items[i] = fmt.Sprintf("    {\n        .name = %q,\n        .data = %s\n    }", e.Name, e.Start())
	}
	return strings.Join(items, ",\n")
}

func sizeCalculations(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("    if (index == %d) return (size_t)(%s - %s);", i, e.End(), e.Start())
	}
	return strings.Join(lines, "\n")
}

// ReadTemplate loads the template at path.
func ReadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content to path, creating parent directories. The file is
// written to a temporary sibling first and renamed into place.
func WriteFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Validate compiles dir/<name>.wasm for every name so a broken image fails the
// build here instead of on the board.
func Validate(ctx context.Context, dir string, names []string) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name+".wasm")
		code, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled, err := r.CompileModule(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		compiled.Close(ctx)
	}
	return errors.Join(errs...)
}
