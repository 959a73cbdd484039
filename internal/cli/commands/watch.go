package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/spf13/cobra"
)

// DefaultWatchDebounce is how long a file must stay quiet before it is relinted.
const DefaultWatchDebounce = 100 * time.Millisecond

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Path     string
	Format   string
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Relint a style sheet whenever it changes",
		Long: `Lint a style sheet, then keep the session open and relint the file
every time it is saved. Stop with Ctrl-C.`,
		Example: `  leaplint watch site.css`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", DefaultWatchDebounce, "Quiet period before relinting")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return err
	}
	source, err := readSource(cmd, path)
	if err != nil {
		return err
	}

	cmdCtx := NewCommandContext(cmd).WithFormat(cmd, opts.Format)
	r := cmdCtx.Renderer
	logger := cmdCtx.Logger

	return withRuntime(cmd, cmdCtx, source, func(s *session.Session) error {
		ctx := cmd.Context()
		show := func() error {
			st, err := s.WaitRun(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if st.LastError != nil {
				r.Errorf("%s %v\n", r.Error("lint run failed:"), st.LastError)
				return nil
			}
			return renderDiagnostics(r, opts.Path, st)
		}
		if err := show(); err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()

		// Watch the directory: editors often replace the file on save.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", opts.Path, err)
		}
		r.Errorf("%s\n", r.Muted(fmt.Sprintf("Watching %s for changes...", opts.Path)))

		changed := make(chan struct{}, 1)
		var debounceTimer *time.Timer
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(opts.Debounce, func() {
					select {
					case changed <- struct{}{}:
					default:
					}
				})

			case <-changed:
				src, err := readSource(cmd, path)
				if err != nil {
					logger.Warn("failed to read watched file", slog.String("error", err.Error()))
					continue
				}
				logger.Debug("file changed, relinting", slog.String("file", path))
				if err := s.SetSource(ctx, src); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				r.Println("")
				r.Println(r.Muted("--- " + time.Now().Format(time.TimeOnly) + " ---"))
				if err := show(); err != nil {
					return err
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Error("watcher error", slog.String("error", err.Error()))
			}
		}
	})
}
