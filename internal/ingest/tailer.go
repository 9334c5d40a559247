package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nxadm/tail"
)

// Options controls how the event log is followed
type Options struct {
	Poll      bool // stat polling instead of inotify, for network and container mounts
	FromStart bool // replay the existing file instead of starting at its end
	MustExist bool
	StopAtEOF bool // read what is there and stop; used by tests and replays
}

// FileTailer follows the honeypot's JSON event log across rotations
type FileTailer struct {
	path   string
	opts   Options
	logger *slog.Logger
	t      *tail.Tail
}

func NewFileTailer(path string, opts Options, logger *slog.Logger) *FileTailer {
	return &FileTailer{
		path:   path,
		opts:   opts,
		logger: logger,
	}
}

// Start begins tailing the file. The returned channel is closed when ctx is
// cancelled or, with StopAtEOF, when the end of the file is reached.
func (f *FileTailer) Start(ctx context.Context) (<-chan string, error) {
	config := tail.Config{
		Follow:    !f.opts.StopAtEOF,
		ReOpen:    !f.opts.StopAtEOF,
		MustExist: f.opts.MustExist,
		Poll:      f.opts.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if !f.opts.FromStart {
		config.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	f.logger.Info("tailing event log", "path", f.path, "poll", f.opts.Poll, "from_start", f.opts.FromStart)

	t, err := tail.TailFile(f.path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to tail file %s: %w", f.path, err)
	}
	f.t = t

	out := make(chan string)

	go func() {
		defer close(out)
		defer t.Cleanup()
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					// Rotation noise; the tailer reopens on its own
					f.logger.Debug("tail error", "path", f.path, "error", line.Err)
					continue
				}
				select {
				case out <- line.Text:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}
	}()

	return out, nil
}

// Stop stops the tailing
func (f *FileTailer) Stop() error {
	if f.t != nil {
		return f.t.Stop()
	}
	return nil
}
