package ctxpatch

import (
	"strings"
	"testing"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

func updateHunks(t *testing.T, patch string) []Hunk {
	t.Helper()
	patches := Parse(patch)
	if len(patches) != 1 {
		t.Fatalf("Parse() returned %d files", len(patches))
	}
	if patches[0].ParseErr != nil {
		t.Fatalf("ParseErr = %v", patches[0].ParseErr)
	}
	return patches[0].Hunks
}

func TestApplyUpdateStrategies(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		patch    string
		opts     Options
		want     string
		strategy Strategy
	}{
		{
			name:     "exact context",
			path:     "a.txt",
			content:  "one\ntwo\nthree\n",
			patch:    "*** Update File: a.txt\n one\n-two\n+TWO\n",
			want:     "one\nTWO\nthree\n",
			strategy: ExactContext,
		},
		{
			name:     "trailing whitespace in file",
			path:     "a.txt",
			content:  "one  \ntwo\nthree\n",
			patch:    "*** Update File: a.txt\n one\n-two\n+TWO\n",
			want:     "one  \nTWO\nthree\n",
			strategy: RstripContext,
		},
		{
			name:     "indentation differs",
			path:     "a.txt",
			content:  "    one\n    two\nthree\n",
			patch:    "*** Update File: a.txt\n one\n-two\n+    TWO\n",
			want:     "    one\n    TWO\nthree\n",
			strategy: TrimContext,
		},
		{
			name:     "removal without context",
			path:     "a.txt",
			content:  "one\ntwo\nthree\n",
			patch:    "*** Update File: a.txt\n-three\n+3\n",
			want:     "one\ntwo\n3\n",
			strategy: ExactRemoval,
		},
		{
			name:     "wrong context falls back to removal",
			path:     "a.txt",
			content:  "one\ntwo\nthree\n",
			patch:    "*** Update File: a.txt\n uno\n-two\n+TWO\n",
			want:     "one\nTWO\nthree\n",
			strategy: ExactRemoval,
		},
		{
			name:     "removal trimmed",
			path:     "a.txt",
			content:  "one\n\ttwo\nthree\n",
			patch:    "*** Update File: a.txt\n-two\n+\tTWO\n",
			want:     "one\n\tTWO\nthree\n",
			strategy: TrimRemoval,
		},
		{
			name:     "marker insert",
			path:     "m.go",
			content:  "package m\n\nfunc a() {}\n\nfunc b() {\n}\n",
			patch:    "*** Update File: m.go\n@@ func b()\n+\t// b does nothing\n",
			want:     "package m\n\nfunc a() {}\n\nfunc b() {\n\t// b does nothing\n}\n",
			strategy: MarkerAnchor,
		},
		{
			name:     "stylesheet normalized",
			path:     "site.css",
			content:  ".a{\n  color:red;\n}\n",
			patch:    "*** Update File: site.css\n .a {\n-  color : red\n+  color: blue;\n",
			want:     ".a{\n  color: blue;\n}\n",
			strategy: StylesheetNormalized,
		},
		{
			name:     "stylesheet property",
			path:     "site.css",
			content:  ".a {\n  margin: 0;\n  color: red;\n}\n.b {\n  color: green;\n}\n",
			patch:    "*** Update File: site.css\n .b {\n-  color: purple;\n+  color: blue;\n",
			want:     ".a {\n  margin: 0;\n  color: red;\n}\n.b {\n  color: blue;\n}\n",
			strategy: StylesheetProperty,
		},
		{
			name:     "stylesheet append",
			path:     "site.css",
			content:  ".a {\n}\n",
			patch:    "*** Update File: site.css\n .missing {\n+.c {\n+}\n",
			want:     ".a {\n}\n.c {\n}\n",
			strategy: AppendEOF,
		},
		{
			name:     "plain append with fallback",
			path:     "notes.txt",
			content:  "first\n",
			patch:    "*** Update File: notes.txt\n+second\n",
			opts:     Options{AppendFallback: true},
			want:     "first\nsecond\n",
			strategy: AppendEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategies, err := ApplyUpdate(tt.path, tt.content, updateHunks(t, tt.patch), tt.opts)
			if err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ApplyUpdate() = %q, want %q", got, tt.want)
			}
			if len(strategies) != 1 || strategies[0] != tt.strategy {
				t.Errorf("strategies = %v, want [%s]", strategies, tt.strategy)
			}
		})
	}
}

func TestApplyUpdateTrimmedManifest(t *testing.T) {
	content := "{\n  \"name\": \"demo\",\n  \"version\": \"1.0\"\n}\n\n"
	patch := `*** Begin Patch
*** Update File: manifest.json
 {
 "name": "demo",
-"version": "1.0"
+  "version": "2.0"
 }

*** End Patch`

	got, strategies, err := ApplyUpdate("manifest.json", content, updateHunks(t, patch), Options{})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	want := "{\n  \"name\": \"demo\",\n  \"version\": \"2.0\"\n}\n\n"
	if got != want {
		t.Errorf("ApplyUpdate() = %q, want %q", got, want)
	}
	if strategies[0] != TrimContext {
		t.Errorf("strategy = %s, want trim-context", strategies[0])
	}
}

func TestApplyUpdateLocationNotFound(t *testing.T) {
	content := "alpha\nbeta\ngamma\n"
	patch := "*** Update File: a.txt\n delta\n-epsilon\n+zeta\n"

	got, _, err := ApplyUpdate("a.txt", content, updateHunks(t, patch), Options{AppendFallback: true})
	if patcherr.KindOf(err) != patcherr.LocationNotFound {
		t.Fatalf("ApplyUpdate() error = %v, want LOCATION_NOT_FOUND", err)
	}
	if got != content {
		t.Errorf("content changed to %q", got)
	}

	pe := patcherr.As(err, "")
	if pe.Path != "a.txt" {
		t.Errorf("Path = %q", pe.Path)
	}
	if sought, _ := pe.Details["sought"].(string); !strings.Contains(sought, "delta") || !strings.Contains(sought, "epsilon") {
		t.Errorf("sought = %q", sought)
	}
	if head, _ := pe.Details["file_head"].(string); !strings.HasPrefix(head, "alpha\nbeta") {
		t.Errorf("file_head = %q", head)
	}
	if _, ok := pe.Details["similar_line"]; !ok {
		t.Error("missing similar_line")
	}
}

func TestApplyUpdatePureAdditionNeedsFallback(t *testing.T) {
	_, _, err := ApplyUpdate("notes.txt", "first\n", updateHunks(t, "*** Update File: notes.txt\n+second\n"), Options{})
	if patcherr.KindOf(err) != patcherr.LocationNotFound {
		t.Fatalf("ApplyUpdate() error = %v, want LOCATION_NOT_FOUND", err)
	}
}

func TestApplyUpdatePostContextAnchor(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		patch    string
		want     string
		strategy Strategy
	}{
		{
			name:     "insert above first line",
			content:  "first\nsecond\n",
			patch:    "*** Update File: main.py\n+import os\n first\n second\n",
			want:     "import os\nfirst\nsecond\n",
			strategy: ExactPostContext,
		},
		{
			name:     "trailing whitespace in file",
			content:  "a\nfirst  \nsecond\n",
			patch:    "*** Update File: main.py\n+inserted\n first\n",
			want:     "a\ninserted\nfirst  \nsecond\n",
			strategy: RstripPostContext,
		},
		{
			name:     "indentation differs",
			content:  "def f():\n    return 1\n",
			patch:    "*** Update File: main.py\n+    x = 1\n  return 1\n",
			want:     "def f():\n    x = 1\n    return 1\n",
			strategy: TrimPostContext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategies, err := ApplyUpdate("main.py", tt.content, updateHunks(t, tt.patch), Options{})
			if err != nil {
				t.Fatalf("ApplyUpdate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ApplyUpdate() = %q, want %q", got, tt.want)
			}
			if len(strategies) != 1 || strategies[0] != tt.strategy {
				t.Errorf("strategies = %v, want [%s]", strategies, tt.strategy)
			}
		})
	}
}

func TestApplyUpdateDiscardsWholeFile(t *testing.T) {
	content := "a\nb\nc\n"
	patch := "*** Update File: f.txt\n a\n-b\n+B\n@@\n nowhere\n-c\n+C\n"
	hunks := updateHunks(t, patch)
	if len(hunks) != 2 {
		t.Fatalf("got %d hunks", len(hunks))
	}
	// The second hunk still finds "c" by removal, so break it explicitly.
	hunks[1].Deletions = []string{"missing"}

	got, _, err := ApplyUpdate("f.txt", content, hunks, Options{})
	if err == nil {
		t.Fatal("ApplyUpdate() succeeded")
	}
	if got != content {
		t.Errorf("content = %q, want original", got)
	}
}

func TestApplyUpdateSequential(t *testing.T) {
	content := "a\nb\nc\n"
	patch := "*** Update File: f.txt\n a\n+inserted\n@@\n inserted\n-b\n+B\n"

	got, _, err := ApplyUpdate("f.txt", content, updateHunks(t, patch), Options{})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if got != "a\ninserted\nB\nc\n" {
		t.Errorf("ApplyUpdate() = %q", got)
	}
}

func TestApplyUpdateTieBreaks(t *testing.T) {
	content := "x\na\ny\nx\na\nz\n"

	got, _, err := ApplyUpdate("f.txt", content, updateHunks(t, "*** Update File: f.txt\n x\n-a\n+A\n z\n"), Options{})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if got != "x\na\ny\nx\nA\nz\n" {
		t.Errorf("post-context tie break: got %q", got)
	}

	got, _, err = ApplyUpdate("f.txt", content, updateHunks(t, "*** Update File: f.txt\n@@ :line 5\n x\n-a\n+A\n"), Options{})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if got != "x\na\ny\nx\nA\nz\n" {
		t.Errorf("line hint tie break: got %q", got)
	}
}

func TestApplyUpdateKeepsCRLF(t *testing.T) {
	got, _, err := ApplyUpdate("f.txt", "a\r\nb\r\n", updateHunks(t, "*** Update File: f.txt\n a\n-b\n+B\n"), Options{})
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}
	if got != "a\r\nB\r\n" {
		t.Errorf("ApplyUpdate() = %q", got)
	}
}

func TestApplyFile(t *testing.T) {
	add := Parse("*** Add File: n.txt\n+hi\n")[0]
	res, err := ApplyFile(add, "", false, Options{})
	if err != nil || res.Content != "hi\n" {
		t.Errorf("Add: %+v, %v", res, err)
	}

	del := Parse("*** Delete File: gone.txt\n")[0]
	if _, err := ApplyFile(del, "", false, Options{}); patcherr.KindOf(err) != patcherr.FileNotFound {
		t.Errorf("Delete missing: err = %v", err)
	}
	res, err = ApplyFile(del, "x\n", true, Options{})
	if err != nil || !res.Deleted {
		t.Errorf("Delete: %+v, %v", res, err)
	}

	upd := Parse("*** Update File: u.txt\n-a\n+b\n")[0]
	if _, err := ApplyFile(upd, "", false, Options{}); patcherr.KindOf(err) != patcherr.FileNotFound {
		t.Errorf("Update missing: err = %v", err)
	}
	res, err = ApplyFile(upd, "a\n", true, Options{})
	if err != nil || res.Content != "b\n" || len(res.Strategies) != 1 {
		t.Errorf("Update: %+v, %v", res, err)
	}
}
