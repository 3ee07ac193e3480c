package ingest

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// resolveSource loads the text behind a source URI.
// http(s) URLs go through readability extraction so markup, navigation and
// boilerplate are stripped; file:// URIs and bare paths are read verbatim.
// Returns the text and a display title (may be empty for local files).
func resolveSource(uri string, timeout time.Duration) (text, title string, err error) {
	u, parseErr := url.Parse(uri)
	if parseErr == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			article, err := readability.FromURL(uri, timeout)
			if err != nil {
				return "", "", fmt.Errorf("extracting readable text from %s: %w", uri, err)
			}
			return article.TextContent, article.Title, nil
		case "file":
			return readLocalFile(u.Path)
		}
	}
	// Not a URL, treat as a local path.
	return readLocalFile(uri)
}

func readLocalFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), "", nil
}
