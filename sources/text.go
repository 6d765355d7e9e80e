// Package sources resolves the list of page URLs a batch is run against.
package sources

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-pagespeed/models"
)

// FromText splits line-delimited input, trimming whitespace and dropping blank lines.
func FromText(text string) []string {
	urls, _ := FromReader(strings.NewReader(text))
	return urls
}

// FromReader reads one URL per line from r.
func FromReader(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "sources: read url list")
	}
	return urls, nil
}

// FromFile reads a URL list from path; "-" reads from stdin.
func FromFile(path string) ([]string, error) {
	if path == "-" {
		return FromReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sources: open %s", path)
	}
	defer f.Close()
	return FromReader(f)
}

// Validate rejects a run that has no API key or no URLs.
func Validate(apiKey string, urls []string) error {
	if strings.TrimSpace(apiKey) == "" {
		return models.ErrMissingAPIKey
	}
	if len(urls) == 0 {
		return models.ErrNoURLs
	}
	return nil
}
