package objectstore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchWildcard reports whether name matches a POSIX Basic Pattern
// Matching pattern (*, ?, [set]), per spec section 4.4. doublestar's
// single-star semantics already stop at path separators the way POSIX
// glob does, so no "**" recursive matching is ever used here.
func MatchWildcard(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// ExpandOutput resolves one declared Output against the object store
// entries actually present on the PVC, matching each entry's full path
// against pattern (output.Path, itself a full POSIX glob such as
// "/work/out/*.txt"), and computes the emitted URL for each match:
// join(output.url, strip_prefix(matched_path, output.path_prefix)).
func ExpandOutput(entries []Entry, pattern, prefix, baseURL string) []MatchedOutput {
	var out []MatchedOutput
	for _, e := range entries {
		if !MatchWildcard(pattern, e.Path) {
			continue
		}
		rel := strings.TrimPrefix(e.Path, prefix)
		rel = strings.TrimPrefix(rel, "/")
		url := strings.TrimSuffix(baseURL, "/")
		if rel != "" {
			url = url + "/" + rel
		}
		out = append(out, MatchedOutput{Path: e.Path, URL: url})
	}
	return out
}

// MatchedOutput is one file resolved from a wildcard Output declaration.
type MatchedOutput struct {
	Path string
	URL  string
}
