package yolo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Ultralytics exports store labels as a python dict literal in the "names"
// metadata entry: {0: 'person', 1: 'bicycle', ...}.
var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

func parseNames(raw string) []string {
	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	byID := make(map[int]string, len(matches))
	maxID := -1
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		name := m[2]
		if name == "" {
			name = m[3]
		}
		byID[id] = name

		if id > maxID {
			maxID = id
		}
	}

	names := make([]string, maxID+1)
	for id, name := range byID {
		names[id] = name
	}

	return names
}

// LoadClassNames reads a newline-delimited label file. Lines are trimmed and
// blank lines skipped. A missing file is not an error and yields nil.
func LoadClassNames(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open class names file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class names file: %w", err)
	}

	return names, nil
}
