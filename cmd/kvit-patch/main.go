package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kvit-s/kvit-patch/internal/config"
	"github.com/kvit-s/kvit-patch/internal/logging"
	"github.com/kvit-s/kvit-patch/internal/orchestrator"
	"github.com/kvit-s/kvit-patch/internal/report"
	"github.com/kvit-s/kvit-patch/internal/stats"
	"github.com/kvit-s/kvit-patch/internal/store"
	"github.com/kvit-s/kvit-patch/internal/textdiff"
	"github.com/kvit-s/kvit-patch/internal/workspace"
)

// Version info set by ldflags at build time
var (
	version    = "dev"
	commitHash = "dev"
	commitDate = "unknown"
	buildDate  = "unknown"
)

// defaultConfigFile is read from the working directory when --config is not given
const defaultConfigFile = ".kvit-patch.yaml"

type options struct {
	configPath     string
	root           string
	target         string
	logPath        string
	sessionName    string
	sessionDelete  string
	listSessions   bool
	undo           bool
	dryRun         bool
	jsonOutput     bool
	quiet          bool
	showDiffs      bool
	noColor        bool
	appendFallback bool
	noValidate     bool
	showStats      bool
	showVersion    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("kvit-patch", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: ./"+defaultConfigFile+" if present)")
	fs.StringVarP(&opts.root, "root", "C", "", "workspace root (overrides workspace.root)")
	fs.StringVarP(&opts.target, "target", "t", "", "file for unified hunks without ---/+++ headers")
	fs.StringVar(&opts.logPath, "log", "", "JSON log file (overrides log.path)")
	fs.StringVarP(&opts.sessionName, "session", "s", "", "record the apply in this session (created on first use)")
	fs.StringVar(&opts.sessionDelete, "session-delete", "", "delete a session and exit")
	fs.BoolVar(&opts.listSessions, "sessions", false, "list all sessions and exit")
	fs.BoolVar(&opts.undo, "undo", false, "revert the latest apply of --session")
	fs.BoolVarP(&opts.dryRun, "dry-run", "n", false, "report what would change without writing anything")
	fs.BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the result")
	fs.BoolVarP(&opts.showDiffs, "diff", "d", false, "print a unified diff of every updated file")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	fs.BoolVar(&opts.appendFallback, "append-fallback", false, "append unplaceable pure additions at end of file")
	fs.BoolVar(&opts.noValidate, "no-validate", false, "skip content validation of patched files")
	fs.BoolVar(&opts.showStats, "stats", false, "print apply statistics to stderr")
	fs.BoolVar(&opts.showVersion, "version", false, "show version information and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  kvit-patch [flags] [PATCH_FILE]   apply a patch (stdin when no file)\n")
		fmt.Fprintf(stderr, "  kvit-patch diff [flags] OLD NEW   print a unified diff of two files\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// run executes the CLI and returns the process exit code
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	w := report.NewWriter()
	w.SetOutput(stdout, stderr)
	w.SetQuiet(opts.quiet)
	w.SetJSONMode(opts.jsonOutput)
	w.SetShowDiffs(opts.showDiffs)

	if opts.showVersion {
		fmt.Fprintf(stdout, "kvit-patch %s\n", version)
		fmt.Fprintf(stdout, "  commit: %s (%s)\n", commitHash, commitDate)
		fmt.Fprintf(stdout, "  built:  %s\n", buildDate)
		return 0
	}

	exclusive := 0
	for _, set := range []bool{opts.listSessions, opts.sessionDelete != "", opts.undo} {
		if set {
			exclusive++
		}
	}
	if exclusive > 1 {
		w.Error("--sessions, --session-delete and --undo are mutually exclusive")
		return 2
	}
	if opts.undo && opts.sessionName == "" {
		w.Error("--undo requires --session")
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		w.Error(fmt.Sprintf("failed to load config: %v", err))
		return 1
	}
	switch {
	case opts.noColor:
		report.SetColor(false)
	case cfg.Output.Color != nil:
		report.SetColor(*cfg.Output.Color)
	}

	logger, err := logging.New(cfg.Log.Path, cfg.Log.Development)
	if err != nil {
		w.Error(fmt.Sprintf("failed to create logger: %v", err))
		return 1
	}
	defer logger.Close()

	ctx := context.Background()

	if positional := fs.Args(); len(positional) > 0 && positional[0] == "diff" {
		return runDiff(positional[1:], cfg, w)
	}

	// Session management commands exit early
	if opts.listSessions || opts.sessionDelete != "" {
		return runSessionCommand(ctx, opts, cfg, w)
	}

	r := &runner{opts: opts, cfg: cfg, w: w, log: logger, stderr: stderr}
	if opts.undo {
		return r.undo(ctx)
	}

	raw, err := readPatch(fs.Args(), stdin)
	if err != nil {
		w.Error(err.Error())
		return 1
	}
	return r.apply(ctx, raw)
}

func loadConfig(opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.root != "" {
		abs, err := filepath.Abs(opts.root)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		cfg.Workspace.Root = abs
	}
	if opts.logPath != "" {
		cfg.Log.Path = opts.logPath
	}
	if opts.appendFallback {
		cfg.Patch.AppendFallback = true
	}
	if opts.noValidate {
		off := false
		cfg.Patch.Validate = &off
	}
	return cfg, nil
}

func readPatch(args []string, stdin io.Reader) (string, error) {
	switch len(args) {
	case 0:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read patch: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("expected at most one patch file, got %d", len(args))
	}
}

func runDiff(args []string, cfg *config.Config, w *report.Writer) int {
	if len(args) != 2 {
		w.Error("diff mode needs exactly two files: OLD NEW")
		return 2
	}
	contents := make([]string, 2)
	for i, p := range args {
		data, err := os.ReadFile(p)
		if err != nil && !os.IsNotExist(err) {
			w.Error(err.Error())
			return 1
		}
		contents[i] = string(data)
	}

	text := textdiff.Diff(filepath.ToSlash(args[1]), contents[0], contents[1], cfg.Output.Context)
	if w.IsJSONMode() {
		if err := w.JSON(map[string]any{"diff": text, "changed": text != ""}); err != nil {
			w.Error(err.Error())
			return 1
		}
		return 0
	}
	if text != "" {
		w.Diff(text)
	}
	return 0
}

func runSessionCommand(ctx context.Context, opts options, cfg *config.Config, w *report.Writer) int {
	st, err := store.Open(ctx, cfg.Session.DBPath)
	if err != nil {
		w.Error(fmt.Sprintf("failed to open session store: %v", err))
		return 1
	}
	defer st.Close()

	if opts.sessionDelete != "" {
		if err := st.DeleteSession(ctx, opts.sessionDelete); err != nil {
			w.Error(fmt.Sprintf("failed to delete session %q: %v", opts.sessionDelete, err))
			return 1
		}
		w.Info(fmt.Sprintf("deleted session %q", opts.sessionDelete))
		return 0
	}

	list, err := st.ListSessions(ctx)
	if err != nil {
		w.Error(fmt.Sprintf("failed to list sessions: %v", err))
		return 1
	}
	if err := w.Sessions(list); err != nil {
		w.Error(err.Error())
		return 1
	}
	return 0
}

// runner carries the state shared by apply and undo
type runner struct {
	opts options
	cfg  *config.Config
	w    *report.Writer
	log  *logging.Logger

	stderr io.Writer
}

func (r *runner) lock(ctx context.Context, root string) (*workspace.Lock, error) {
	if r.cfg.Workspace.LockTimeout <= 0 {
		return workspace.AcquireLock(root)
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Workspace.LockTimeout)*time.Second)
	defer cancel()
	return workspace.WaitLock(ctx, root)
}

// checkPaths rejects paths the configuration does not allow to be changed
func (r *runner) checkPaths(paths []string) error {
	access := config.AccessWrite
	if r.opts.dryRun {
		access = config.AccessRead
	}
	for _, p := range paths {
		clean := filepath.ToSlash(filepath.Clean(p))
		if filepath.IsAbs(p) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("%s: path must be relative to the workspace", p)
		}
		if perm, err := r.cfg.CheckPathPermission(p, access); perm != config.PermissionGranted {
			return err
		}
	}
	return nil
}

func (r *runner) apply(ctx context.Context, raw string) int {
	start := time.Now()
	root := r.cfg.Workspace.Root

	if !r.opts.dryRun {
		lock, err := r.lock(ctx, root)
		if err != nil {
			r.w.Error(err.Error())
			return 1
		}
		defer lock.Release()
	}

	paths := orchestrator.ReferencedPaths(raw)
	if r.opts.target != "" {
		paths = append(paths, r.opts.target)
	}
	if err := r.checkPaths(paths); err != nil {
		r.w.Error(err.Error())
		return 1
	}

	files, err := workspace.LoadFiles(root, paths)
	if err != nil {
		r.w.Error(err.Error())
		return 1
	}
	r.w.Info(fmt.Sprintf("loaded %d of %d referenced files", len(files), len(paths)))

	var (
		st      *store.Store
		session store.SessionInfo
	)
	if r.opts.sessionName != "" {
		st, err = store.Open(ctx, r.cfg.Session.DBPath)
		if err != nil {
			r.w.Error(fmt.Sprintf("failed to open session store: %v", err))
			return 1
		}
		defer st.Close()

		session, err = st.OpenSession(ctx, r.opts.sessionName, root)
		if err != nil {
			r.w.Error(fmt.Sprintf("failed to open session: %v", err))
			return 1
		}
		r.warnDrift(ctx, st, session.ID, files)
	}

	orch := orchestrator.New(files, orchestrator.Options{
		Logger:            r.log,
		ContextLines:      r.cfg.Patch.ContextLines,
		AppendFallback:    r.cfg.Patch.AppendFallback,
		ConversationLimit: r.cfg.Patch.ConversationLimit,
		SkipValidation:    !r.cfg.Patch.ValidateContent(),
	})
	if st != nil {
		msgs, err := st.Messages(ctx, session.ID)
		if err != nil {
			r.w.Error(fmt.Sprintf("failed to load session messages: %v", err))
			return 1
		}
		orch.RestoreMessages(msgs)
	}
	orch.AddMessage("assistant", raw)

	res := orch.Apply(raw, orchestrator.ApplyOptions{TargetPath: r.opts.target})
	orch.AddMessage("tool", toolMessage(res))

	sum := report.Summary{DryRun: r.opts.dryRun, Session: r.opts.sessionName}
	if !r.opts.dryRun && res.Changed() {
		after := orch.Files()
		if err := workspace.Commit(root, after, res.UpdatedPaths, res.DeletedPaths); err != nil {
			r.w.Error(err.Error())
			return 1
		}
		if st != nil {
			id, err := st.SaveApply(ctx, session.ID, res, after, priorVersions(files, res), orch.Messages())
			if err != nil {
				r.w.Error(fmt.Sprintf("failed to save session: %v", err))
				return 1
			}
			sum.ApplyID = id
			r.log.SessionSaved(session.ID, len(res.UpdatedPaths)+len(res.DeletedPaths), len(orch.Messages()))
		}
	} else if st != nil && !r.opts.dryRun {
		if err := st.SaveMessages(ctx, session.ID, orch.Messages()); err != nil {
			r.w.Error(fmt.Sprintf("failed to save session: %v", err))
			return 1
		}
	}

	elapsed := time.Since(start)
	sum.DurationMs = elapsed.Milliseconds()
	if err := r.w.Result(res, sum); err != nil {
		r.w.Error(err.Error())
		return 1
	}
	if r.opts.showStats {
		s := stats.New()
		s.Add(raw, res, elapsed)
		s.PrintTo(r.stderr)
	}
	if !res.OK() && !res.Changed() {
		return 1
	}
	return 0
}

// warnDrift reports files whose disk content differs from what the session
// last wrote, which means something else edited them in between.
func (r *runner) warnDrift(ctx context.Context, st *store.Store, sessionID string, files map[string]string) {
	known, err := st.Files(ctx, sessionID)
	if err != nil {
		r.log.Error("load session files", err)
		return
	}
	for p, content := range files {
		if prev, ok := known[p]; ok && prev != content {
			r.w.Warn(fmt.Sprintf("%s changed on disk since the last apply in session %q", p, r.opts.sessionName))
		}
	}
}

func (r *runner) undo(ctx context.Context) int {
	st, err := store.Open(ctx, r.cfg.Session.DBPath)
	if err != nil {
		r.w.Error(fmt.Sprintf("failed to open session store: %v", err))
		return 1
	}
	defer st.Close()

	session, err := st.Session(ctx, r.opts.sessionName)
	if err != nil {
		r.w.Error(fmt.Sprintf("session %q: %v", r.opts.sessionName, err))
		return 1
	}

	var rec store.ApplyRecord
	if r.opts.dryRun {
		applies, err := st.Applies(ctx, session.ID)
		if err != nil {
			r.w.Error(err.Error())
			return 1
		}
		if len(applies) == 0 {
			r.w.Error(fmt.Sprintf("session %q has nothing to undo", r.opts.sessionName))
			return 1
		}
		rec = applies[0]
	} else {
		lock, err := r.lock(ctx, session.Root)
		if err != nil {
			r.w.Error(err.Error())
			return 1
		}
		defer lock.Release()

		rec, err = st.Undo(ctx, session.ID)
		if errors.Is(err, store.ErrNotFound) {
			r.w.Error(fmt.Sprintf("session %q has nothing to undo", r.opts.sessionName))
			return 1
		}
		if err != nil {
			r.w.Error(err.Error())
			return 1
		}

		restored := make(map[string]string, len(rec.Before))
		var updated, deleted []string
		for p, v := range rec.Before {
			if v.Existed {
				restored[p] = v.Content
				updated = append(updated, p)
			} else {
				deleted = append(deleted, p)
			}
		}
		if err := workspace.Commit(session.Root, restored, updated, deleted); err != nil {
			r.w.Error(err.Error())
			return 1
		}
		r.log.SessionSaved(session.ID, len(rec.Before), session.MessageCount)
	}

	if err := r.w.Undone(rec, r.opts.dryRun); err != nil {
		r.w.Error(err.Error())
		return 1
	}
	return 0
}

// priorVersions captures what each changed path held before the apply
func priorVersions(files map[string]string, res orchestrator.Result) map[string]store.Version {
	before := make(map[string]store.Version, len(res.UpdatedPaths)+len(res.DeletedPaths))
	for _, paths := range [][]string{res.UpdatedPaths, res.DeletedPaths} {
		for _, p := range paths {
			content, existed := files[p]
			before[p] = store.Version{Content: content, Existed: existed}
		}
	}
	return before
}

// toolMessage summarizes a result for the conversation log
func toolMessage(res orchestrator.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "updated: %s; deleted: %s", joinOrNone(res.UpdatedPaths), joinOrNone(res.DeletedPaths))
	for _, fe := range res.Errors {
		fmt.Fprintf(&b, "\n%s %s: %s", fe.Kind, fe.Path, fe.Message)
	}
	return b.String()
}

func joinOrNone(paths []string) string {
	if len(paths) == 0 {
		return "none"
	}
	return strings.Join(paths, ", ")
}
