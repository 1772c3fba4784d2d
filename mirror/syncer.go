package mirror

import (
	"context"
	"fmt"

	humanize "github.com/dustin/go-humanize"

	imap "github.com/BrianLeishman/imapsync"
)

// FolderReport sums up one folder pass.
type FolderReport struct {
	Folder     string
	DestFolder string
	// Unselectable is set for \Noselect folders, which are only
	// provisioned.
	Unselectable     bool
	SourceMessages   int
	DestIdentities   int
	Copied           int
	AlreadyPresent   int
	WithoutMessageID int
	BelowWatermark   int
	CopiedBytes      uint64
}

// Syncer copies the messages of one source folder that its destination
// folder does not hold yet.
type Syncer struct {
	src   *Account
	dst   *Account
	dedup *Deduplicator
	opts  Options
	log   imap.Logger
}

// NewSyncer returns a Syncer copying from src to dst.
func NewSyncer(src, dst *Account, dedup *Deduplicator, opts Options, log imap.Logger) *Syncer {
	return &Syncer{src: src, dst: dst, dedup: dedup, opts: opts, log: log}
}

// SyncFolder runs one pass over folder f, whose destination path is
// destPath. destMissing tells a dry run that destPath has not been created,
// so there is nothing to select or compare against.
func (s *Syncer) SyncFolder(ctx context.Context, f imap.Folder, destPath string, destMissing bool) (FolderReport, error) {
	rep := FolderReport{Folder: f.Name, DestFolder: destPath}
	log := s.log.WithAttrs("folder", f.DisplayName(), "dest_folder", imap.DecodeFolderName(destPath))

	if !f.Selectable() {
		log.Info("folder is not selectable, skipping messages", "attributes", f.Attributes)
		rep.Unselectable = true
		return rep, nil
	}
	log.Info("syncing folder")

	srcStatus, err := s.src.Endpoint.SelectFolder(f.Name, true)
	if err != nil {
		return rep, fmt.Errorf("select source folder %q: %w", f.DisplayName(), err)
	}

	identities := make(IdentitySet)
	if destMissing {
		log.Info("destination folder does not exist yet, comparing against an empty folder")
	} else {
		// a dry run only ever reads the destination
		if _, err := s.dst.Endpoint.SelectFolder(destPath, s.opts.DryRun); err != nil {
			return rep, fmt.Errorf("select destination folder %q: %w", imap.DecodeFolderName(destPath), err)
		}
		if identities, err = s.dedup.Identities(s.dst.Endpoint, destPath); err != nil {
			return rep, err
		}
	}
	rep.DestIdentities = len(identities)

	uids, err := s.src.Endpoint.Search()
	if err != nil {
		return rep, fmt.Errorf("search source folder %q: %w", f.DisplayName(), err)
	}
	rep.SourceMessages = len(uids)
	log.Info("source messages", "messages", len(uids), "dest_identities", len(identities))

	pending, maxUID, err := s.belowWatermark(f, srcStatus, uids, log)
	if err != nil {
		return rep, err
	}
	rep.BelowWatermark = len(uids) - len(pending)

	for _, uid := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.syncMessage(ctx, uid, destPath, identities, &rep, log); err != nil {
			return rep, fmt.Errorf("folder %q uid %d: %w", f.DisplayName(), uid, err)
		}
	}

	if s.opts.Watermarks != nil && !s.opts.DryRun && srcStatus.UIDValidity != 0 && maxUID > 0 {
		if err := s.opts.Watermarks.Save(f.Name, srcStatus.UIDValidity, maxUID); err != nil {
			return rep, fmt.Errorf("save watermark for %q: %w", f.DisplayName(), err)
		}
	}

	log.Info("folder synced", "copied", rep.Copied, "already_present", rep.AlreadyPresent,
		"without_message_id", rep.WithoutMessageID, "size", humanize.Bytes(rep.CopiedBytes), "dry_run", s.opts.DryRun)
	return rep, nil
}

func (s *Syncer) syncMessage(ctx context.Context, uid int, destPath string, identities IdentitySet, rep *FolderReport, log imap.Logger) error {
	msgs, err := s.src.Endpoint.Fetch([]int{uid}, imap.FetchFlags, imap.FetchInternalDate, imap.FetchSize, imap.FetchBody)
	if err != nil {
		return err
	}
	m, ok := msgs[uid]
	if !ok {
		log.Warn("message vanished before it could be fetched", "uid", uid)
		return nil
	}
	if m.Body == nil {
		return ErrMissingBody
	}

	flags := imap.WithoutFlags(m.Flags, imap.FlagRecent)

	h, err := parseHeader(m.Body)
	if err != nil {
		log.Warn("unreadable header, message has no identity", "uid", uid, "error", err)
	}
	log = log.WithAttrs("uid", uid, "message_id", h.MessageID)
	log.Debug("source message", "message", m.String(), "from", h.From, "subject", h.Subject, "flags", flags)

	switch {
	case h.MessageID == "":
		// nothing to deduplicate on, so it is copied on every run
		rep.WithoutMessageID++
	case identities.Has(h.MessageID):
		rep.AlreadyPresent++
		log.Debug("already present")
		return nil
	}

	log.Info("copying message", "from", h.From, "subject", h.Subject,
		"size", humanize.Bytes(uint64(len(m.Body))), "dry_run", s.opts.DryRun)

	if !s.opts.DryRun {
		if s.opts.AppendLimiter != nil {
			if err := s.opts.AppendLimiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := s.dst.Endpoint.Append(destPath, m.Body, flags, m.InternalDate); err != nil {
			return err
		}
	}

	if h.MessageID != "" {
		identities.Add(h.MessageID)
	}
	rep.Copied++
	rep.CopiedBytes += uint64(len(m.Body))
	return nil
}

// belowWatermark drops the UIDs a previous run already handled, when a
// watermark store is configured and the folder's UIDVALIDITY is unchanged.
// It also returns the highest UID seen.
func (s *Syncer) belowWatermark(f imap.Folder, st imap.MailboxStatus, uids []int, log imap.Logger) ([]int, int, error) {
	maxUID := 0
	for _, u := range uids {
		if u > maxUID {
			maxUID = u
		}
	}
	if s.opts.Watermarks == nil || st.UIDValidity == 0 {
		return uids, maxUID, nil
	}

	validity, last, ok, err := s.opts.Watermarks.Load(f.Name)
	if err != nil {
		return nil, 0, fmt.Errorf("load watermark for %q: %w", f.DisplayName(), err)
	}
	if !ok {
		return uids, maxUID, nil
	}
	if validity != st.UIDValidity {
		log.Info("uidvalidity changed, scanning the whole folder", "stored", validity, "current", st.UIDValidity)
		return uids, maxUID, nil
	}

	pending := make([]int, 0, len(uids))
	for _, u := range uids {
		if u > last {
			pending = append(pending, u)
		}
	}
	if last > maxUID {
		maxUID = last
	}
	log.Debug("watermark applied", "last_uid", last, "pending", len(pending))
	return pending, maxUID, nil
}
