package app

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/indexer"
	"github.com/blackwell-systems/deploygate/internal/output"
	"github.com/blackwell-systems/deploygate/internal/store"
)

var (
	historyCollection string
	historyDeployable string
	historyActor      string
	historyFailed     bool
	historySince      string
	historyLimit      int
	historyRaw        bool
	historyFollow     bool
	historyRebuild    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded deployment attempts",
	Long: `Show deployment attempts from the audit log, oldest first.

Queries go through a local history index that is brought up to date with
the audit log on every run. The audit log is always the source of truth:
--raw reads it directly and --rebuild recreates the index from it.

--follow keeps running and prints attempts as other deploygate processes
append them.`,
	Example: `  # Last 50 attempts
  deploygate history

  # Failed attempts against one collection in the last week
  deploygate history --collection "Pilot Ring" --failed --since 7d

  # Watch for new attempts
  deploygate history --follow`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVarP(&historyCollection, "collection", "c", "", "only attempts against this collection")
	f.StringVarP(&historyDeployable, "deployable", "d", "", "only attempts for this deployable")
	f.StringVar(&historyActor, "actor", "", "only attempts by this operator")
	f.BoolVar(&historyFailed, "failed", false, "only failed attempts")
	f.StringVar(&historySince, "since", "", "only attempts since a duration ago (24h, 7d) or a date")
	f.IntVarP(&historyLimit, "limit", "n", 50, "show at most the N most recent matches (0 for all)")
	f.BoolVar(&historyRaw, "raw", false, "read the audit log directly instead of the index")
	f.BoolVarP(&historyFollow, "follow", "f", false, "keep printing new attempts as they are recorded")
	f.BoolVar(&historyRebuild, "rebuild", false, "recreate the history index from the audit log first")
	historyCmd.MarkFlagsMutuallyExclusive("raw", "follow")
	historyCmd.MarkFlagsMutuallyExclusive("raw", "rebuild")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("invalid limit: %d (must not be negative)", historyLimit)
	}
	since, err := parseSince(historySince, time.Now())
	if err != nil {
		return err
	}

	s, err := loadSettings(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	filter := store.Filter{
		LogPath:    s.cfg.AuditLog,
		Collection: s.aliases.Collection(historyCollection),
		Deployable: s.aliases.Deployable(historyDeployable),
		Actor:      historyActor,
		FailedOnly: historyFailed,
		Since:      since,
		Limit:      historyLimit,
	}
	out := cmd.OutOrStdout()

	if historyRaw {
		return showRawHistory(out, s, filter)
	}

	st, err := s.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if historyRebuild {
		if _, err := indexer.Rebuild(st, s.cfg.AuditLog, s.logger); err != nil {
			return fmt.Errorf("failed to rebuild history index: %w", err)
		}
	}
	if err := s.catchUp(st); err != nil {
		return fmt.Errorf("failed to update history index: %w", err)
	}

	records, err := st.ListRecords(filter)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	counts, err := st.CountRecords(filter)
	if err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}

	fmt.Fprint(out, output.RenderHistoryTable(records))
	if len(records) > 0 {
		fmt.Fprintln(out)
		if counts.Total > len(records) {
			fmt.Fprintf(out, "Showing %d of %d matching. ", len(records), counts.Total)
		}
		fmt.Fprint(out, output.RenderCounts(counts))
	}

	if historyFollow {
		return followHistory(cmd, out, s, st, filter)
	}
	return nil
}

// showRawHistory reads the audit log file itself and filters in memory.
func showRawHistory(out io.Writer, s *settings, f store.Filter) error {
	all, skipped, err := audit.ReadAll(s.cfg.AuditLog, s.logger)
	if err != nil {
		return err
	}

	var matched []audit.Record
	for _, r := range all {
		if matches(r, f) {
			matched = append(matched, r)
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[len(matched)-f.Limit:]
	}

	fmt.Fprint(out, output.RenderHistoryTable(matched))
	if len(skipped) > 0 {
		fmt.Fprintf(out, "\n⚠ %d malformed line(s) skipped in %s\n", len(skipped), s.cfg.AuditLog)
	}
	return nil
}

// followHistory prints new matching records until the command's context is
// cancelled.
func followHistory(cmd *cobra.Command, out io.Writer, s *settings, st *store.Store, f store.Filter) error {
	ctx := commandContext(cmd)

	var mu sync.Mutex
	handler := func(recs []audit.Record) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range recs {
			if matches(r, f) {
				fmt.Fprint(out, output.RenderHistoryLine(r))
			}
		}
	}

	opts := indexer.DefaultWatcherOptions()
	opts.Logger = s.logger
	w, err := indexer.NewWatcher(st, s.cfg.AuditLog, handler, &opts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)\n", s.cfg.AuditLog)
	<-ctx.Done()
	return w.Stop()
}

// matches applies f to one record, the way the index query does.
func matches(r audit.Record, f store.Filter) bool {
	if f.Collection != "" && !strings.EqualFold(r.CollectionName, f.Collection) {
		return false
	}
	if f.Deployable != "" && !strings.EqualFold(r.DeployableName, f.Deployable) {
		return false
	}
	if f.Actor != "" && !strings.EqualFold(r.Actor, f.Actor) {
		return false
	}
	if f.FailedOnly && r.Succeeded() {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
