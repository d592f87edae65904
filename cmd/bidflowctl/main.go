// Command bidflowctl inspects and maintains a bidflow record store: stage
// views, legacy imports, archive deduplication, orphan reconciliation and
// attachment transfer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"bidflow/internal/attachment"
	"bidflow/internal/blob"
	"bidflow/internal/config"
	"bidflow/internal/core"
	"bidflow/internal/logging"
	"bidflow/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: bidflowctl [-config path] <command> [flags]

commands:
  views           print the sourcing, approval, submission and archive views
  import          load legacy collections from a JSON file
  dedupe-archive  delete superseded archive records
  orphans         list submitted records without an archive record
  reconcile       archive every orphaned submission
  attach          store a file as an attachment of a record
  download        fetch every attachment of a record into a directory
`

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	svc     *core.Service
	closeFn func() error
	stdout  io.Writer
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bidflowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to bidflow.yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	command, cmdArgs := rest[0], rest[1:]
	handler, ok := commands[command]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return 2
	}

	ctx := context.Background()
	e, err := setup(ctx, *configPath, stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bidflowctl: %v\n", err)
		return 1
	}
	defer func() {
		_ = e.logger.Sync()
		if err := e.closeFn(); err != nil {
			_, _ = fmt.Fprintf(stderr, "bidflowctl: close store: %v\n", err)
		}
	}()

	cmdFlags := flag.NewFlagSet(command, flag.ContinueOnError)
	cmdFlags.SetOutput(stderr)
	if err := handler(ctx, e, cmdFlags, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var usageErr usageError
		if errors.As(err, &usageErr) {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 1
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func setup(ctx context.Context, configPath string, stdout, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := requirePersistentDrivers(cfg); err != nil {
		return nil, err
	}
	var logger *zap.Logger
	if out := cfg.Log.OutputPath; out == "" || out == "stderr" {
		logger = logging.NewWithWriter(cfg.Log, stderr)
	} else if logger, err = logging.New(cfg.Log); err != nil {
		return nil, err
	}
	metrics, err := core.NewMetricsRecorder(cfg.Metrics, nil)
	if err != nil {
		return nil, err
	}
	store, closeFn, err := core.OpenStore(ctx, cfg.Storage, nil, logger)
	if err != nil {
		return nil, err
	}
	opts := []core.Option{core.WithConfig(*cfg), core.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(metrics))
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		svc:     core.NewService(store, opts...),
		closeFn: closeFn,
		stdout:  stdout,
	}, nil
}

// requirePersistentDrivers rejects the memory drivers: each bidflowctl run
// is a separate process, so their state would vanish on exit.
func requirePersistentDrivers(cfg *config.Config) error {
	if cfg.Storage.Driver == core.StorageMemory {
		return fmt.Errorf("storage.driver %q does not persist between runs; use sqlite or postgres", cfg.Storage.Driver)
	}
	if cfg.Blob.Driver == string(blob.DriverMemory) {
		return fmt.Errorf("blob.driver %q does not persist between runs; use fs, s3 or minio", cfg.Blob.Driver)
	}
	return nil
}

type commandFunc func(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error

var commands = map[string]commandFunc{
	"views":          runViews,
	"import":         runImport,
	"dedupe-archive": runDedupe,
	"orphans":        runOrphans,
	"reconcile":      runReconcile,
	"attach":         runAttach,
	"download":       runDownload,
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runViews(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	stage := fs.String("stage", "", "only print one view: sourcing, approval, submission or archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	out := map[string]any{}
	want := func(name string) bool { return *stage == "" || *stage == name }
	switch *stage {
	case "", "sourcing", "approval", "submission", "archive":
	default:
		return usageError{fmt.Sprintf("unknown stage %q", *stage)}
	}
	if want("sourcing") {
		records, err := e.svc.SourcingView(ctx)
		if err != nil {
			return err
		}
		out["sourcing"] = records
	}
	if want("approval") {
		records, err := e.svc.ApprovalView(ctx)
		if err != nil {
			return err
		}
		out["approval"] = records
	}
	if want("submission") {
		records, err := e.svc.SubmissionView(ctx)
		if err != nil {
			return err
		}
		out["submission"] = records
	}
	if want("archive") {
		view, err := e.svc.LoadArchive(ctx)
		if err != nil {
			return err
		}
		out["archive"] = map[string]any{
			"records":    view.Records,
			"duplicates": view.Duplicates,
			"missingKey": view.MissingKey,
		}
	}
	return e.print(out)
}

func runImport(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	path := fs.String("file", "", "JSON file with sourcing, submission and archive arrays")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return usageError{"-file is required"}
	}
	raw, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	var collections core.LegacyCollections
	if err := json.Unmarshal(raw, &collections); err != nil {
		return fmt.Errorf("decode %s: %w", *path, err)
	}
	report, err := e.svc.ImportLegacyCollections(ctx, collections)
	if err != nil {
		return err
	}
	return e.print(report)
}

func actorFlag(fs *flag.FlagSet) *string {
	return fs.String("actor", "", "user recorded as performing the action")
}

func runDedupe(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	actor := actorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	run, err := e.svc.DeduplicateArchive(ctx, *actor)
	if err != nil {
		return err
	}
	return e.print(run)
}

func runOrphans(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	orphans, err := e.svc.ListOrphanedSubmissions(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(orphans))
	for _, o := range orphans {
		ids = append(ids, o.ID)
	}
	return e.print(map[string]any{"orphans": ids})
}

func runReconcile(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	actor := actorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	run, err := e.svc.ReconcileOrphans(ctx, *actor)
	if err != nil {
		return err
	}
	return e.print(run)
}

func (e *env) attachments(ctx context.Context) (*attachment.Store, error) {
	blobs, err := blob.Open(ctx, e.cfg.Blob)
	if err != nil {
		return nil, err
	}
	opts := []attachment.Option{attachment.WithLogger(e.logger)}
	if e.cfg.Blob.MinIO.PresignExpiry > 0 {
		opts = append(opts, attachment.WithURLExpiry(e.cfg.Blob.MinIO.PresignExpiry))
	}
	return attachment.New(blobs, opts...), nil
}

func runAttach(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	owner := fs.String("owner", "", "business key the attachment belongs to")
	path := fs.String("file", "", "file to upload")
	mimeType := fs.String("mime", "", "content type (guessed from the extension when empty)")
	actor := actorFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *path == "" {
		return usageError{"-owner and -file are required"}
	}
	store, err := e.attachments(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if *mimeType == "" {
		*mimeType = mime.TypeByExtension(filepath.Ext(*path))
	}
	saved, err := store.Save(ctx, *owner, filepath.Base(*path), *mimeType, f, *actor)
	if err != nil {
		return err
	}
	return e.print(saved)
}

func runDownload(ctx context.Context, e *env, fs *flag.FlagSet, args []string) error {
	owner := fs.String("owner", "", "business key whose attachments are fetched")
	dir := fs.String("dir", ".", "destination directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return usageError{"-owner is required"}
	}
	store, err := e.attachments(ctx)
	if err != nil {
		return err
	}
	listed, err := store.ListByOwner(ctx, *owner)
	if err != nil {
		return err
	}
	refs := make([]domain.AttachmentRef, 0, len(listed))
	for _, a := range listed {
		refs = append(refs, a.Ref())
	}
	downloader := attachment.NewBatchDownloader(store, e.cfg.Download.Concurrency, e.cfg.Download.Interval, e.logger)
	contents, err := downloader.DownloadAll(ctx, refs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*dir, 0o750); err != nil {
		return err
	}
	written := make([]string, 0, len(contents))
	for i, c := range contents {
		name := listed[i].ID
		if base := filepath.Base(c.Name); strings.TrimSpace(c.Name) != "" && base != "." && base != string(filepath.Separator) {
			name += "-" + base
		}
		target := filepath.Join(*dir, name)
		if err := os.WriteFile(target, c.Data, 0o640); err != nil {
			return err
		}
		written = append(written, target)
	}
	return e.print(map[string]any{"files": written})
}
