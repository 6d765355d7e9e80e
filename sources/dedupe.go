package sources

import (
	"github.com/rotisserie/eris"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe drops repeated URLs, keeping the first occurrence. Memory is bounded by
// maxSize; repeats further apart than maxSize distinct URLs are kept.
func Dedupe(urls []string, maxSize int) ([]string, int, error) {
	seen, err := lru.New[string, struct{}](maxSize)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sources: dedupe cache")
	}

	out := make([]string, 0, len(urls))
	dropped := 0
	for _, u := range urls {
		if seen.Contains(u) {
			dropped++
			continue
		}
		seen.Add(u, struct{}{})
		out = append(out, u)
	}
	return out, dropped, nil
}
