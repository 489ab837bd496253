package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/monitoring"
	"github.com/sells-group/comms-cli/internal/resilience"
	"github.com/sells-group/comms-cli/internal/store"
	"github.com/sells-group/comms-cli/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run and inspect message sync sessions",
	Long:  "Commands for starting, cancelling, listing and replaying message sync sessions.",
}

// -- sync start --

var syncStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Sync messages from the provider and wait for the session to finish",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := syncOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sess, h, err := env.Gate.Start(cmd.Context(), opts)
		if err != nil {
			return eris.Wrap(err, "sync start")
		}
		fmt.Fprintf(os.Stderr, "Session %s started (%s, account %s)\n", sess.ID, sess.Mode, sess.AccountToken)

		return waitSession(ctx, env.Gate, h, sess.ID, os.Stdout)
	},
}

// waitSession polls progress until the session ends. An interrupt cancels
// the session and keeps waiting for the in-flight batch to finish.
func waitSession(ctx context.Context, g *syncer.Gate, h *syncer.Handle, id string, out io.Writer) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	bg := context.WithoutCancel(ctx)
	interrupted := ctx.Done()
	for {
		select {
		case <-h.Done():
			sess, err := g.Get(bg, id)
			if err != nil {
				return err
			}
			formatSession(out, sess)
			if sess.Status == model.SessionStatusFailed {
				return eris.Errorf("sync %s failed", id)
			}
			return nil
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(os.Stderr, "Interrupted, cancelling session...")
			if err := g.Cancel(bg, id); err != nil {
				zap.L().Warn("cancel session", zap.String("session_id", id), zap.Error(err))
			}
		case <-ticker.C:
			p, err := g.Progress(bg, id)
			if err != nil {
				continue
			}
			fmt.Fprintf(os.Stderr, "  %5.1f%%  %s  (imported %d, duplicates %d, errors %d)\n",
				p.PercentComplete, p.CurrentOperation, p.Counters.Imported, p.Counters.Duplicates, p.Counters.Errors)
		}
	}
}

// syncOptionsFromFlags builds session options from the start command's flags.
func syncOptionsFromFlags(cmd *cobra.Command) (syncer.Options, error) {
	account, _ := cmd.Flags().GetString("account")
	if account == "" && cfg != nil {
		account = cfg.Sync.AccountToken
	}
	mode, _ := cmd.Flags().GetString("mode")
	opts := syncer.NewOptions(account, model.SyncMode(mode))

	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	var err error
	if opts.Range.Start, err = parseTime(start); err != nil {
		return opts, eris.Wrap(err, "--start")
	}
	if opts.Range.End, err = parseTime(end); err != nil {
		return opts, eris.Wrap(err, "--end")
	}

	opts.Phone, _ = cmd.Flags().GetString("phone")
	opts.UnreadOnly, _ = cmd.Flags().GetBool("unread")
	opts.PageSize, _ = cmd.Flags().GetInt("page-size")
	opts.MaxPages, _ = cmd.Flags().GetInt("max-pages")
	opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	opts.BatchConcurrency, _ = cmd.Flags().GetInt("concurrency")

	noDedup, _ := cmd.Flags().GetBool("no-dedup")
	noParsing, _ := cmd.Flags().GetBool("no-parsing")
	noCustomers, _ := cmd.Flags().GetBool("no-customers")
	noThreading, _ := cmd.Flags().GetBool("no-threading")
	opts.Features = syncer.Features{
		Dedup:            !noDedup,
		Parsing:          !noParsing,
		CustomerMatching: !noCustomers,
		Threading:        !noThreading,
	}
	return opts, opts.Validate()
}

// parseTime accepts RFC 3339 timestamps or bare dates. Empty means unset.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}

// -- sync status --

var syncStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Gate.Progress(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sync status")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

// -- sync cancel --

var syncCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Gate.Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "sync cancel")
		}
		fmt.Fprintf(os.Stdout, "Session %s cancelled.\n", args[0])
		return nil
	},
}

// -- sync list --

var syncListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync sessions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		account, _ := cmd.Flags().GetString("account")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{
			AccountToken: account,
			Status:       model.SessionStatus(status),
			Limit:        limit,
		})
		if err != nil {
			return eris.Wrap(err, "sync list")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sync dead-letters --

var syncDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List messages that failed to import",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		account, _ := cmd.Flags().GetString("account")
		retryable, _ := cmd.Flags().GetBool("retryable")
		limit, _ := cmd.Flags().GetInt("limit")

		letters, err := st.ListDeadLetters(ctx, resilience.DeadLetterFilter{
			AccountToken:  account,
			RetryableOnly: retryable,
			Limit:         limit,
		})
		if err != nil {
			return eris.Wrap(err, "sync dead-letters")
		}
		if len(letters) == 0 {
			fmt.Fprintln(os.Stderr, "No dead letters.")
			return nil
		}
		formatDeadLetters(os.Stdout, letters)
		return nil
	},
}

// -- sync replay --

var syncReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-import retryable dead letters for an account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" && cfg != nil {
			account = cfg.Sync.AccountToken
		}
		if account == "" {
			return eris.New("sync replay: --account is required")
		}
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sess, h, err := env.Gate.Replay(cmd.Context(), account, limit)
		if err != nil {
			return eris.Wrap(err, "sync replay")
		}
		if sess == nil {
			fmt.Fprintln(os.Stderr, "Nothing to replay.")
			return nil
		}
		return waitSession(ctx, env.Gate, h, sess.ID, os.Stdout)
	},
}

// -- sync metrics --

var syncMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarize recent sync health and any alerts it would raise",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "sync metrics")
		}
		if err := printJSON(os.Stdout, snap); err != nil {
			return err
		}
		for _, a := range monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap) {
			fmt.Fprintf(os.Stderr, "ALERT [%s] %s\n", a.Severity, a.Message)
		}
		return nil
	},
}

// addSyncStartFlags registers the session option flags on c.
func addSyncStartFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("account", "", "account token (default sync.account_token)")
	f.String("mode", string(model.SyncModeManual), "sync mode (initial, incremental, manual)")
	f.String("start", "", "window start (RFC 3339 or YYYY-MM-DD)")
	f.String("end", "", "window end (RFC 3339 or YYYY-MM-DD)")
	f.String("phone", "", "only sync this phone number (manual mode)")
	f.Bool("unread", false, "only sync unread messages (manual mode)")
	f.Int("page-size", 0, "messages per page (default sync.page_size)")
	f.Int("max-pages", 0, "page limit per session (default sync.max_pages)")
	f.Int("batch-size", 0, "messages per transaction (default sync.batch_size)")
	f.Int("concurrency", 0, "batches processed in parallel (default sync.batch_concurrency)")
	f.Bool("no-dedup", false, "skip the duplicate guard")
	f.Bool("no-parsing", false, "skip extraction")
	f.Bool("no-customers", false, "skip customer matching")
	f.Bool("no-threading", false, "ignore provider thread ids")
}

func init() {
	addSyncStartFlags(syncStartCmd)

	syncListCmd.Flags().String("account", "", "filter by account token")
	syncListCmd.Flags().String("status", "", "filter by status (running, completed, failed, cancelled)")
	syncListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	syncDeadLettersCmd.Flags().String("account", "", "filter by account token")
	syncDeadLettersCmd.Flags().Bool("retryable", false, "only letters that can still be replayed")
	syncDeadLettersCmd.Flags().Int("limit", 50, "max number of letters to display")

	syncReplayCmd.Flags().String("account", "", "account token (default sync.account_token)")
	syncReplayCmd.Flags().Int("limit", 0, "max letters to replay (0 = all retryable)")

	syncMetricsCmd.Flags().Int("hours", 24, "lookback window in hours")

	syncCmd.AddCommand(syncStartCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncCancelCmd)
	syncCmd.AddCommand(syncListCmd)
	syncCmd.AddCommand(syncDeadLettersCmd)
	syncCmd.AddCommand(syncReplayCmd)
	syncCmd.AddCommand(syncMetricsCmd)
	rootCmd.AddCommand(syncCmd)
}

// formatSession writes a one-session summary to out.
func formatSession(out io.Writer, s *model.SyncSession) {
	c := s.Counters
	_, _ = fmt.Fprintf(out, "Session:        %s\n", s.ID)
	_, _ = fmt.Fprintf(out, "Status:         %s\n", s.Status)
	_, _ = fmt.Fprintf(out, "Account:        %s (%s)\n", s.AccountToken, s.Mode)
	if s.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "Duration:       %s\n", s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	_, _ = fmt.Fprintf(out, "Messages:       %d fetched, %d processed\n", c.TotalMessages, c.Processed)
	_, _ = fmt.Fprintf(out, "Imported:       %d (%d duplicates, %d errors)\n", c.Imported, c.Duplicates, c.Errors)
	_, _ = fmt.Fprintf(out, "Conversations:  %d created, %d matched\n", c.ConversationsCreated, c.ConversationsMatched)
	_, _ = fmt.Fprintf(out, "Customers:      %d created, %d matched\n", c.CustomersCreated, c.CustomersMatched)
	for _, e := range s.Errors {
		if e.Severity == model.ErrorCritical || e.Severity == model.ErrorWarning {
			_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", e.Severity, e.Stage, e.Message)
		}
	}
}

// formatSessionsList writes a tabular list of sessions to out.
func formatSessionsList(out io.Writer, sessions []model.SyncSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tACCOUNT\tMODE\tSTATUS\tIMPORTED\tERRORS\tSTARTED")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.AccountToken, s.Mode, s.Status,
			s.Counters.Imported, s.Counters.Errors,
			s.StartedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// formatDeadLetters writes a tabular list of dead letters to out.
func formatDeadLetters(out io.Writer, letters []resilience.DeadLetter) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXTERNAL_ID\tACCOUNT\tSTAGE\tTYPE\tRETRIES\tERROR")
	for _, d := range letters {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			d.Message.ID, d.AccountToken, d.Stage, d.ErrorType,
			d.RetryCount, d.MaxRetries, truncate(d.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
