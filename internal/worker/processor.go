// Package worker builds export archives off the request path, either from
// asynq tasks (cmd/worker) or from the in-process pool.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
)

// Processor runs export jobs.
type Processor struct {
	packager *export.Packager
	sink     export.Sink
	logger   *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(packager *export.Packager, sink export.Sink, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{packager: packager, sink: sink, logger: logger}
}

// Handler registers the export job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ExportPublicTask, p.handleExport)
	return mux
}

func (p *Processor) handleExport(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeExport(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return p.Run(ctx, payload)
}

// Run builds the archive into a temp file, then hands it to the sink. The
// archive only becomes visible once it is complete.
func (p *Processor) Run(ctx context.Context, payload queue.ExportPayload) error {
	if !export.ValidName(payload.Name) {
		return fmt.Errorf("invalid archive name %q", payload.Name)
	}
	log := p.logger.With("archive", payload.Name)
	failure := func(err error) error {
		log.Error("export failed", "err", err)
		return err
	}

	tmp, err := os.CreateTemp("", "hashdrop-export-*.zip")
	if err != nil {
		return failure(fmt.Errorf("create temp archive: %w", err))
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	summary, err := p.packager.ExportPublic(ctx, tmp, export.TagFilter(payload.Tag))
	if err != nil {
		return failure(err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return failure(fmt.Errorf("measure archive: %w", err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return failure(fmt.Errorf("rewind archive: %w", err))
	}
	if err := p.sink.Put(ctx, payload.Name, tmp, size); err != nil {
		return failure(err)
	}
	log.Info("export stored", "bytes", size, "files", len(summary.Files), "errors", len(summary.Errors), "requested_by", payload.RequestedBy)
	return nil
}
