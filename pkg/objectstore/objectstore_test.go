package objectstore

import "testing"

func TestScheme(t *testing.T) {
	cases := map[string]string{
		"":                      "content",
		"/local/path":           "file",
		"file:///tmp/x":         "file",
		"s3://bucket/key":       "s3",
		"ftp://host/path/x.txt": "ftp",
	}
	for url, want := range cases {
		if got := Scheme(url); got != want {
			t.Errorf("Scheme(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestMatchWildcard(t *testing.T) {
	if !MatchWildcard("*.txt", "result.txt") {
		t.Error("expected *.txt to match result.txt")
	}
	if MatchWildcard("*.txt", "sub/result.txt") {
		t.Error("expected * to not cross a path separator")
	}
	if !MatchWildcard("out-[0-9].log", "out-3.log") {
		t.Error("expected bracket set to match digit")
	}
}

func TestExpandOutput(t *testing.T) {
	entries := []Entry{
		{Path: "/work/out/a.txt", URL: "file:///work/out/a.txt"},
		{Path: "/work/out/b.csv", URL: "file:///work/out/b.csv"},
	}
	matched := ExpandOutput(entries, "/work/out/*.txt", "/work/out", "s3://bucket/results")
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}
	if matched[0].URL != "s3://bucket/results/a.txt" {
		t.Errorf("unexpected emitted URL: %s", matched[0].URL)
	}
}
