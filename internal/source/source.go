// Package source loads capture targets from line-oriented input.
package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Read parses one target per line. Blank lines and lines starting with '#'
// are skipped; entries without an http:// or https:// prefix get https://.
func Read(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if u, ok := Normalize(scanner.Text()); ok {
			urls = append(urls, u)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan urls: %w", err)
	}
	return urls, nil
}

// ReadFile opens path and delegates to Read.
func ReadFile(path string) ([]string, error) {
	// #nosec G304 -- the input path comes from the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	urls, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return urls, nil
}

// Normalize trims a raw line and returns the target URL, or ok=false when the
// line carries no target.
func Normalize(line string) (string, bool) {
	u := strings.TrimSpace(line)
	if u == "" || strings.HasPrefix(u, "#") {
		return "", false
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u, true
}
