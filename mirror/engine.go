package mirror

import (
	"context"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/xid"
	"golang.org/x/time/rate"

	imap "github.com/BrianLeishman/imapsync"
)

// WatermarkStore remembers, per source folder, the highest UID a finished
// run has handled. state.Store implements it.
type WatermarkStore interface {
	Load(folder string) (uidValidity uint32, lastUID int, ok bool, err error)
	Save(folder string, uidValidity uint32, lastUID int) error
}

// Options configure a mirror run.
type Options struct {
	// DryRun logs every decision without creating folders or appending.
	DryRun bool
	// CopyNoMessageID is accepted for compatibility. Messages without a
	// Message-ID are always copied, so it changes nothing.
	CopyNoMessageID bool
	// FetchBatch is the number of headers per FETCH when reading
	// destination identities. Zero means DefaultFetchBatch.
	FetchBatch int
	// AppendLimiter, when set, paces appends to the destination.
	AppendLimiter *rate.Limiter
	// Watermarks, when set, lets a run skip source UIDs a previous run
	// already handled.
	Watermarks WatermarkStore
}

// Report sums up a run.
type Report struct {
	RunID          string
	CreatedFolders []string
	Folders        []FolderReport
	Copied         int
	CopiedBytes    uint64
}

// Engine mirrors a source account onto a destination account. Both
// endpoints must already be authenticated; the engine owns them for the
// duration of Run and uses each from one goroutine only.
type Engine struct {
	src  Endpoint
	dst  Endpoint
	opts Options
	log  imap.Logger
}

// New returns an Engine mirroring src onto dst. A nil log discards output.
func New(src, dst Endpoint, opts Options, log imap.Logger) *Engine {
	if log == nil {
		log = imap.DiscardLogger()
	}
	return &Engine{src: src, dst: dst, opts: opts, log: log}
}

// Run provisions every source folder on the destination and then syncs the
// folders one by one in source listing order. The first error aborts the
// run.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: xid.New().String()}
	log := e.log.WithAttrs("run", rep.RunID)

	if e.opts.CopyNoMessageID {
		log.Info("messages without a Message-ID are always copied, --copy-no-message-id has no further effect")
	}
	if e.opts.DryRun {
		log.Info("dry run, the destination will not be modified")
	}

	src, err := OpenAccount("source", e.src, log)
	if err != nil {
		return rep, err
	}
	dst, err := OpenAccount("destination", e.dst, log)
	if err != nil {
		return rep, err
	}

	prov, err := NewProvisioner(dst, NewTranslator(log), e.opts.DryRun, log).Provision(src.Folders)
	rep.CreatedFolders = prov.Created
	if err != nil {
		return rep, err
	}

	syncer := NewSyncer(src, dst, NewDeduplicator(e.opts.FetchBatch, log), e.opts, log)
	for _, f := range src.Folders {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		destPath := prov.Paths[f.Name]
		fr, err := syncer.SyncFolder(ctx, f, destPath, prov.Missing[destPath])
		rep.Folders = append(rep.Folders, fr)
		rep.Copied += fr.Copied
		rep.CopiedBytes += fr.CopiedBytes
		if err != nil {
			return rep, err
		}
	}

	log.Info("complete", "folders", len(rep.Folders), "created_folders", len(rep.CreatedFolders),
		"copied", rep.Copied, "size", humanize.Bytes(rep.CopiedBytes), "dry_run", e.opts.DryRun)
	return rep, nil
}

// String renders a one-line summary.
func (r Report) String() string {
	return fmt.Sprintf("run %s: %d folders, %d created, %d messages copied (%s)",
		r.RunID, len(r.Folders), len(r.CreatedFolders), r.Copied, humanize.Bytes(r.CopiedBytes))
}
