package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loadDriverBundle concatenates every *.js file directly under dir, in
// name order, into one combined driver script. The DriverSandbox's goja
// VM evaluates this as a single program, so later files may reference
// object graphs declared by earlier ones (spec.md §4.4's "evaluated
// object graph").
func loadDriverBundle(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("runtime: read driver directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("runtime: read driver script %q: %w", name, err)
		}
		b.Write(src)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
