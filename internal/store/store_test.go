package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kvit-s/kvit-patch/internal/orchestrator"
	"github.com/kvit-s/kvit-patch/internal/patcherr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "sessions.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSession(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if ok, err := s.SessionExists(ctx, "work"); err != nil || ok {
		t.Fatalf("SessionExists() = %v, %v before creation", ok, err)
	}

	first, err := s.OpenSession(ctx, "work", "/repo")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if first.ID == "" || first.Root != "/repo" {
		t.Errorf("session = %+v", first)
	}

	again, err := s.OpenSession(ctx, "work", "/elsewhere")
	if err != nil {
		t.Fatalf("OpenSession() second call error = %v", err)
	}
	if again.ID != first.ID || again.Root != "/repo" {
		t.Errorf("second OpenSession() = %+v, want existing session", again)
	}

	if _, err := s.Session(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Session(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSaveApplyAndUndo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sess, err := s.OpenSession(ctx, "work", "/repo")
	if err != nil {
		t.Fatal(err)
	}

	res := orchestrator.Result{
		UpdatedPaths: []string{"a.txt", "new.txt"},
		DeletedPaths: []string{"old.txt"},
		Errors:       []orchestrator.FileError{{Path: "b.json", Kind: patcherr.ValidationFailed, Message: "bad"}},
		Explanation:  "two files",
		Dialect:      orchestrator.DialectContext,
	}
	files := map[string]string{"a.txt": "A2\n", "new.txt": "N\n"}
	before := map[string]Version{
		"a.txt":   {Content: "A1\n", Existed: true},
		"new.txt": {Existed: false},
		"old.txt": {Content: "O\n", Existed: true},
	}
	msgs := []orchestrator.Message{{Role: "assistant", Content: "patch"}, {Role: "tool", Content: "applied"}}

	if _, err := s.SaveApply(ctx, sess.ID, res, files, before, msgs); err != nil {
		t.Fatalf("SaveApply() error = %v", err)
	}

	got, err := s.Files(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, files) {
		t.Errorf("Files() = %v, want %v", got, files)
	}

	storedMsgs, err := s.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(storedMsgs) != 2 || storedMsgs[1].Content != "applied" || storedMsgs[0].Time.IsZero() {
		t.Errorf("Messages() = %+v", storedMsgs)
	}

	applies, err := s.Applies(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(applies) != 1 {
		t.Fatalf("Applies() returned %d records, want 1", len(applies))
	}
	rec := applies[0]
	if rec.Dialect != "context" || rec.Explanation != "two files" || len(rec.Errors) != 1 || rec.Errors[0].Kind != patcherr.ValidationFailed {
		t.Errorf("apply record = %+v", rec)
	}
	if !reflect.DeepEqual(rec.Before, before) {
		t.Errorf("Before = %v, want %v", rec.Before, before)
	}

	info, err := s.Session(ctx, "work")
	if err != nil {
		t.Fatal(err)
	}
	if info.FileCount != 2 || info.MessageCount != 2 {
		t.Errorf("counts = %d files, %d messages", info.FileCount, info.MessageCount)
	}

	undone, err := s.Undo(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	if undone.ID != rec.ID {
		t.Errorf("Undo() record = %s, want %s", undone.ID, rec.ID)
	}
	got, _ = s.Files(ctx, sess.ID)
	want := map[string]string{"a.txt": "A1\n", "old.txt": "O\n"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Files() after Undo = %v, want %v", got, want)
	}

	if _, err := s.Undo(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Undo() error = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"one", "two"} {
		if _, err := s.OpenSession(ctx, name, "/repo"); err != nil {
			t.Fatal(err)
		}
	}
	two, _ := s.Session(ctx, "two")
	if err := s.SaveMessages(ctx, two.ID, []orchestrator.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ListSessions() returned %d sessions, want 2", len(list))
	}

	if err := s.DeleteSession(ctx, "two"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if ok, _ := s.SessionExists(ctx, "two"); ok {
		t.Error("session two still exists")
	}
	msgs, _ := s.Messages(ctx, two.ID)
	if len(msgs) != 0 {
		t.Errorf("messages left after delete: %+v", msgs)
	}
	if err := s.DeleteSession(ctx, "two"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSession() of missing session error = %v", err)
	}
}

func TestMigrationsDownAndUp(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mig.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	m := migrator{}
	if err := m.upToLatest(ctx, db); err != nil {
		t.Fatalf("upToLatest() error = %v", err)
	}
	if v, _ := m.version(ctx, db); v != latestVersion {
		t.Fatalf("version = %d, want %d", v, latestVersion)
	}

	if err := m.downOne(ctx, db); err != nil {
		t.Fatalf("downOne() error = %v", err)
	}
	var cnt int
	_ = db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='applies'`).Scan(&cnt)
	if cnt != 0 {
		t.Error("applies table should be dropped")
	}

	if err := m.upToLatest(ctx, db); err != nil {
		t.Fatalf("upToLatest() after down error = %v", err)
	}
	if err := m.downOne(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := m.downOne(ctx, db); err == nil {
		t.Error("downOne() from v1 should fail")
	}
}
