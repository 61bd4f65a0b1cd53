package textdiff

import (
	"testing"

	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

func TestCheckAndValidate(t *testing.T) {
	tests := []struct {
		name        string
		diff        string
		wantMissing string
	}{
		{
			name:        "complete",
			diff:        "--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-a\n+b\n",
			wantMissing: "",
		},
		{
			name:        "no headers",
			diff:        "@@ -1,1 +1,1 @@\n-a\n+b\n",
			wantMissing: "headers",
		},
		{
			name:        "only old header",
			diff:        "--- a/f\n@@ -1,1 +1,1 @@\n-a\n+b\n",
			wantMissing: "headers",
		},
		{
			name:        "no hunk header",
			diff:        "--- a/f\n+++ b/f\n-a\n+b\n",
			wantMissing: "hunks",
		},
		{
			name:        "dev null headers",
			diff:        "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,1 @@\n+hello\n",
			wantMissing: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.diff)
			if tt.wantMissing == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				if !Check(tt.diff).OK() {
					t.Error("Check().OK() = false")
				}
				return
			}
			if patcherr.KindOf(err) != patcherr.InvalidDiff {
				t.Fatalf("Validate() error = %v, want INVALID_DIFF", err)
			}
			pe := patcherr.As(err, "")
			if pe.Details["missing"] != tt.wantMissing {
				t.Errorf("missing = %v, want %s", pe.Details["missing"], tt.wantMissing)
			}
		})
	}
}

func TestRepair(t *testing.T) {
	in := "--- a/notes.txt\n+++ b/notes.txt\nline one\nline two\n"
	got, ok := Repair(in)
	if !ok {
		t.Fatal("Repair() ok = false")
	}
	want := "--- a/notes.txt\n+++ b/notes.txt\n@@ -1,0 +1,2 @@\n+line one\n+line two\n"
	if got != want {
		t.Errorf("Repair() =\n%s\nwant\n%s", got, want)
	}
	if err := Validate(got); err != nil {
		t.Errorf("Validate(repaired) error = %v", err)
	}

	applied, err := ApplyText("", in, "notes.txt")
	if err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if applied != "line one\nline two\n" {
		t.Errorf("ApplyText() = %q", applied)
	}
}

func TestRepairCountsSignedLines(t *testing.T) {
	in := "--- a/f\n+++ b/f\n keep\n-drop\n+add\n"
	got, ok := Repair(in)
	if !ok {
		t.Fatal("Repair() ok = false")
	}
	want := "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n keep\n-drop\n+add\n"
	if got != want {
		t.Errorf("Repair() = %q, want %q", got, want)
	}
}

func TestRepairRefusesCompleteDiff(t *testing.T) {
	in := "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n"
	if _, ok := Repair(in); ok {
		t.Error("Repair() ok = true for a diff that has hunks")
	}
	if _, ok := Repair("just prose"); ok {
		t.Error("Repair() ok = true for text without headers")
	}
}

func TestParse(t *testing.T) {
	in := "--- a/src/main.go\t2024-01-02 10:00:00\n" +
		"+++ b/src/main.go\t2024-01-02 10:05:00\n" +
		"@@ -1,3 +1,3 @@ func main() {\n" +
		" a\n" +
		"\n" +
		"-c\n" +
		"+C\n" +
		"@@ -10 +10,2 @@\n" +
		" j\n" +
		"+k\n" +
		"\n" +
		"\n"

	d, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.OldPath != "src/main.go" || d.NewPath != "src/main.go" {
		t.Errorf("paths = %q, %q", d.OldPath, d.NewPath)
	}
	if len(d.Hunks) != 2 {
		t.Fatalf("got %d hunks, want 2", len(d.Hunks))
	}

	h := d.Hunks[0]
	if h.OldCount != 3 || h.NewCount != 3 {
		t.Errorf("hunk 1 counts = %d,%d, want 3,3", h.OldCount, h.NewCount)
	}
	if h.Lines[1].Sign != SignContext || h.Lines[1].Text != "" {
		t.Errorf("blank line = %+v, want blank context", h.Lines[1])
	}

	h = d.Hunks[1]
	if h.OldStart != 10 || h.NewStart != 10 {
		t.Errorf("hunk 2 starts = %d,%d", h.OldStart, h.NewStart)
	}
	if len(h.Lines) != 2 {
		t.Errorf("hunk 2 has %d lines, want 2 (trailing blanks are separators)", len(h.Lines))
	}
}

func TestParseEndsHunkOnProse(t *testing.T) {
	in := "--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-a\n+b\nThat should fix it.\n+not part of the hunk\n"
	d, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(d.Hunks) != 1 || len(d.Hunks[0].Lines) != 2 {
		t.Errorf("Parse() = %+v", d.Hunks)
	}
}

func TestParseHeaderLikeLinesInsideHunk(t *testing.T) {
	in := "--- a/notes.md\n+++ b/notes.md\n@@ -1,2 +1,2 @@\n keep\n--- x\n+++ y\n"
	d, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.OldPath != "notes.md" || d.NewPath != "notes.md" {
		t.Errorf("paths = %q, %q", d.OldPath, d.NewPath)
	}
	if len(d.Hunks) != 1 {
		t.Fatalf("got %d hunks, want 1", len(d.Hunks))
	}
	lines := d.Hunks[0].Lines
	if len(lines) != 3 || lines[1] != (HunkLine{Sign: SignRemove, Text: "-- x"}) || lines[2] != (HunkLine{Sign: SignAdd, Text: "++ y"}) {
		t.Errorf("lines = %+v", lines)
	}

	got, err := Apply("keep\n-- x\n", d)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got != "keep\n++ y\n" {
		t.Errorf("Apply() = %q", got)
	}
}

func TestHunkCounts(t *testing.T) {
	tests := []struct {
		line             string
		wantOld, wantNew int
		wantOK           bool
	}{
		{"@@ -1,3 +1,4 @@", 3, 4, true},
		{"@@ -7 +7 @@ func f()", 1, 1, true},
		{"@@ -x +1 @@", 0, 0, false},
	}
	for _, tt := range tests {
		o, n, ok := HunkCounts(tt.line)
		if o != tt.wantOld || n != tt.wantNew || ok != tt.wantOK {
			t.Errorf("HunkCounts(%q) = %d, %d, %v", tt.line, o, n, ok)
		}
	}
}

func TestParseMalformedHunk(t *testing.T) {
	_, err := Parse("--- a/f\n+++ b/f\n@@ -x,1 +1 @@\n-a\n")
	if patcherr.KindOf(err) != patcherr.MalformedHunk {
		t.Fatalf("Parse() error = %v, want MALFORMED_HUNK", err)
	}
	pe := patcherr.As(err, "")
	if pe.Details["line"] != 3 {
		t.Errorf("line = %v, want 3", pe.Details["line"])
	}
}

func TestParseDevNull(t *testing.T) {
	d, err := Parse("--- a/old.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-bye\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !d.IsDeletion() || d.Path() != "old.txt" {
		t.Errorf("IsDeletion() = %v, Path() = %q", d.IsDeletion(), d.Path())
	}

	d, err = Parse("--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,1 @@\n+hi\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !d.IsCreation() || d.Path() != "new.txt" {
		t.Errorf("IsCreation() = %v, Path() = %q", d.IsCreation(), d.Path())
	}
}

func TestParseCRLF(t *testing.T) {
	d, err := Parse("--- a/f\r\n+++ b/f\r\n@@ -1,1 +1,1 @@\r\n-a\r\n+b\r\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(d.Hunks) != 1 || d.Hunks[0].Lines[1].Text != "b" {
		t.Errorf("Parse() = %+v", d.Hunks)
	}
}
