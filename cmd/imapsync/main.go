// Command imapsync mirrors the folders and messages of one IMAP account
// onto another.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	imap "github.com/BrianLeishman/imapsync"
	"github.com/BrianLeishman/imapsync/mirror"
	"github.com/BrianLeishman/imapsync/state"
)

type options struct {
	sourcePort     int
	destPort       int
	sourceToken    string
	destToken      string
	dryRun         bool
	copyNoID       bool
	insecure       bool
	retries        int
	dialTimeout    time.Duration
	commandTimeout time.Duration
	fetchBatch     int
	appendRate     float64
	stateDB        string
	resetState     bool
	verbose        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "imapsync SOURCE_HOST SOURCE_USER DEST_HOST DEST_USER",
		Short: "Mirror the folders and messages of one IMAP account onto another",
		Long: `imapsync creates every source folder on the destination and copies the
messages whose Message-ID the destination folder does not hold yet.
Nothing is deleted. Passwords are read from IMAPSYNC_SOURCE_PASSWORD and
IMAPSYNC_DEST_PASSWORD or prompted for.`,
		Args:         cobra.ExactArgs(4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&o.dryRun, "dry-run", false, "Log every decision without modifying the destination")
	f.BoolVar(&o.copyNoID, "copy-no-message-id", false, "Copy messages without a Message-ID (always the case, kept for compatibility)")
	f.IntVar(&o.sourcePort, "source-port", 993, "Source IMAPS port")
	f.IntVar(&o.destPort, "dest-port", 993, "Destination IMAPS port")
	f.StringVar(&o.sourceToken, "source-token", "", "OAuth2 access token for the source (XOAUTH2 instead of LOGIN)")
	f.StringVar(&o.destToken, "dest-token", "", "OAuth2 access token for the destination (XOAUTH2 instead of LOGIN)")
	f.BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification")
	f.IntVar(&o.retries, "retries", 0, "Reconnect and retry idempotent commands this many times (appends are never retried)")
	f.DurationVar(&o.dialTimeout, "dial-timeout", 30*time.Second, "Connection timeout, 0 for none")
	f.DurationVar(&o.commandTimeout, "command-timeout", 0, "Per command timeout, 0 for none")
	f.IntVar(&o.fetchBatch, "fetch-batch", mirror.DefaultFetchBatch, "Headers fetched per request when reading destination Message-IDs")
	f.Float64Var(&o.appendRate, "append-rate", 0, "Maximum appends per second, 0 for unlimited")
	f.StringVar(&o.stateDB, "state-db", "", "SQLite file remembering per-folder UID watermarks between runs")
	f.BoolVar(&o.resetState, "reset-state", false, "Forget the stored watermarks of this mirror before running")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Log every IMAP command and per-message decision")
	return cmd
}

func run(ctx context.Context, o *options, args []string) error {
	sourceHost, sourceUser, destHost, destUser := args[0], args[1], args[2], args[3]

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := imap.NewTextLogger(os.Stderr, level)
	imap.SetLogger(logger)
	imap.Verbose = o.verbose
	imap.RetryCount = o.retries
	imap.DialTimeout = o.dialTimeout
	imap.CommandTimeout = o.commandTimeout
	imap.TLSSkipVerify = o.insecure

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := mirror.Options{
		DryRun:          o.dryRun,
		CopyNoMessageID: o.copyNoID,
		FetchBatch:      o.fetchBatch,
	}
	if o.appendRate > 0 {
		opts.AppendLimiter = rate.NewLimiter(rate.Limit(o.appendRate), 1)
	}
	if o.stateDB != "" {
		db, err := state.Open(ctx, o.stateDB)
		if err != nil {
			return err
		}
		defer db.Close()
		store := db.Mirror(fmt.Sprintf("%s@%s -> %s@%s", sourceUser, sourceHost, destUser, destHost))
		if o.resetState {
			if err := store.Reset(); err != nil {
				return err
			}
		}
		opts.Watermarks = store
	}

	logger.Info("connecting to source", "host", sourceHost, "user", sourceUser)
	src, err := connect(endpointConfig{
		label: "Source", envVar: "IMAPSYNC_SOURCE_PASSWORD",
		host: sourceHost, port: o.sourcePort, user: sourceUser, token: o.sourceToken,
	}, promptPassword)
	if err != nil {
		logger.Error("source login failed", "error", err)
		return err
	}
	defer src.Logout()

	logger.Info("connecting to destination", "host", destHost, "user", destUser)
	dst, err := connect(endpointConfig{
		label: "Dest", envVar: "IMAPSYNC_DEST_PASSWORD",
		host: destHost, port: o.destPort, user: destUser, token: o.destToken,
	}, promptPassword)
	if err != nil {
		logger.Error("destination login failed", "error", err)
		return err
	}
	defer dst.Logout()

	rep, err := mirror.New(src, dst, opts, logger).Run(ctx)
	if err != nil {
		logger.Error("mirror aborted", "error", err, "copied", rep.Copied)
		return err
	}
	logger.Info(rep.String())
	return nil
}
