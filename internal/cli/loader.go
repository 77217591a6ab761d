package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/coachflow/internal/compiler"
	"github.com/roach88/coachflow/internal/domain"
)

// LoadDirectives compiles every .cue file in dir into directives.
// Files are processed in lexical order so load results are stable.
func LoadDirectives(dir string) ([]domain.Directive, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("directory not found: %s", dir))
	}
	if !info.IsDir() {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no .cue files in %s", dir))
	}
	sort.Strings(files)

	var out []domain.Directive
	seen := map[string]string{}
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		directives, err := compiler.CompileFile(file, src)
		if err != nil {
			return nil, err
		}
		for _, d := range directives {
			if prev, ok := seen[d.ID]; ok {
				return nil, NewExitError(ExitFailure,
					fmt.Sprintf("duplicate directive %q in %s (first defined in %s)", d.ID, file, prev))
			}
			seen[d.ID] = file
			out = append(out, d)
		}
	}
	return out, nil
}
