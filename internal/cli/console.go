package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gbionescu/reddit-moderator-bot/internal/console"
	"github.com/gbionescu/reddit-moderator-bot/internal/feeder"
)

type consoleOptions struct {
	*RootOptions
	Addr     string
	Message  string
	Status   bool
	Modqueue string
}

// NewConsoleCommand returns the console command.
func NewConsoleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &consoleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to a running bot",
		Long: `Send lines to a running bot as if they were private messages.

Without --message, lines are read from stdin until EOF. Replies go to the
console user's inbox on the platform.

Example:
  modbot console --message "/ping"
  modbot console --addr 127.0.0.1:5151 --status
  modbot console --modqueue mysubreddit --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", console.DefaultAddr, "console address")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "send one line and exit")
	cmd.Flags().BoolVar(&opts.Status, "status", false, "print the bot status")
	cmd.Flags().StringVar(&opts.Modqueue, "modqueue", "", "print the moderation queue of a subreddit")
	cmd.MarkFlagsMutuallyExclusive("message", "status", "modqueue")
	return cmd
}

func runConsole(opts *consoleOptions, cmd *cobra.Command) error {
	out := newOutput(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	client := console.NewClient(opts.Addr, nil)
	ctx := cmd.Context()

	fail := func(err error) error {
		_ = out.Error(ErrCodeConsole, err.Error(), nil)
		return WrapExitError(ExitCommandError, "console request failed", err)
	}

	switch {
	case opts.Status:
		st, err := client.Status(ctx)
		if err != nil {
			return fail(err)
		}
		text := fmt.Sprintf("started: %s\nsubreddits: %s\nsubmissions: %s\ncomments: %s\npending messages: %d\nhooks: %d",
			st.Started.Format("2006-01-02 15:04:05"), strings.Join(st.Subreddits, ", "),
			feederLine(st.Submissions), feederLine(st.Comments), st.PendingMessages, st.Hooks)
		return out.Success(st, text)

	case opts.Modqueue != "":
		items, err := client.Modqueue(ctx, opts.Modqueue)
		if err != nil {
			return fail(err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d item(s) in /r/%s modqueue", len(items), opts.Modqueue)
		for _, it := range items {
			fmt.Fprintf(&b, "\n%s by %s: %d mod report(s), %d user report(s)",
				it.Fullname, it.Author, len(it.ModReports), len(it.UserReports))
		}
		return out.Success(items, b.String())

	case opts.Message != "":
		id, err := client.Send(ctx, opts.Message)
		if err != nil {
			return fail(err)
		}
		return out.Success(console.Response{ID: id, Queued: true}, "queued "+id)
	}

	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := client.Send(ctx, line)
		if err != nil {
			return fail(err)
		}
		out.Logf("queued %s", id)
	}
	if err := sc.Err(); err != nil {
		return WrapExitError(ExitCommandError, "read stdin", err)
	}
	return nil
}

func feederLine(s feeder.State) string {
	return fmt.Sprintf("pending %d, seen %d, fed %d, workers %d", s.Pending, s.Seen, s.Fed, len(s.Workers))
}
