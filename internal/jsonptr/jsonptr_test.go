package jsonptr_test

import (
	"testing"

	"github.com/agentflare-ai/go-otpatch/internal/jsonptr"
)

func TestArrayIndex(t *testing.T) {
	testCases := []struct {
		name   string
		token  string
		arrLen int
		want   int
	}{
		{"append sentinel", "-", 3, 3},
		{"in-range index", "1", 3, 1},
		{"zero index", "0", 3, 0},
		{"non-numeric", "foo", 3, -1},
		{"negative", "-1", 3, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := jsonptr.ArrayIndex(tc.token, tc.arrLen)
			if got != tc.want {
				t.Errorf("ArrayIndex(%q, %d) = %d, want %d", tc.token, tc.arrLen, got, tc.want)
			}
		})
	}
}

func TestResolveAppendPath(t *testing.T) {
	doc := map[string]any{"items": []any{"a", "b"}}

	resolved, err := jsonptr.ResolveAppendPath(doc, "/items/-")
	if err != nil {
		t.Fatalf("ResolveAppendPath: %v", err)
	}
	if resolved != "/items/2" {
		t.Errorf("resolved = %q, want /items/2", resolved)
	}

	unchanged, err := jsonptr.ResolveAppendPath(doc, "/items/0")
	if err != nil {
		t.Fatalf("ResolveAppendPath: %v", err)
	}
	if unchanged != "/items/0" {
		t.Errorf("resolved = %q, want /items/0 unchanged", unchanged)
	}
}

func TestJoinAndEscape(t *testing.T) {
	if got := jsonptr.EscapeToken("a/b~c"); got != "a~1b~0c" {
		t.Errorf("EscapeToken = %q, want a~1b~0c", got)
	}
	if got := jsonptr.Join("/foo", "a/b"); got != "/foo/a~1b" {
		t.Errorf("Join = %q, want /foo/a~1b", got)
	}
	if got := jsonptr.Join("", "x"); got != "/x" {
		t.Errorf("Join(\"\", x) = %q, want /x", got)
	}
}

func TestParentPathAndLastToken(t *testing.T) {
	parent, err := jsonptr.ParentPath("/a/b/c")
	if err != nil || parent != "/a/b" {
		t.Errorf("ParentPath = %q, %v, want /a/b, nil", parent, err)
	}
	last, err := jsonptr.LastToken("/a/b/c")
	if err != nil || last != "c" {
		t.Errorf("LastToken = %q, %v, want c, nil", last, err)
	}
	if root, _ := jsonptr.ParentPath(""); root != "" {
		t.Errorf("ParentPath(\"\") = %q, want \"\"", root)
	}
}

func TestIsRoot(t *testing.T) {
	if !jsonptr.IsRoot("") {
		t.Error("IsRoot(\"\") should be true")
	}
	if jsonptr.IsRoot("/a") {
		t.Error("IsRoot(/a) should be false")
	}
}
