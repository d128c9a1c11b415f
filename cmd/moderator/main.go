// moderator is the operator tool for the relay's moderation state. It works
// directly on the relay database, so bans take effect at the next login
// attempt without a running server.
//
// Usage:
//
//	moderator ban -user alice -days 3 -reason spam -by ops
//	moderator unban -user alice
//	moderator list
//	moderator check "some chat text"
//	moderator migrate
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/ban"
	"github.com/whisper/relay/internal/config"
	"github.com/whisper/relay/internal/logging"
	"github.com/whisper/relay/internal/moderation"
	"github.com/whisper/relay/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Dev: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "moderator:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: moderator <ban|unban|list|check|migrate> [flags]")
}

func run(cfg config.Config, log *zap.Logger, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "check":
		return runCheck(cfg, args, out)
	case "migrate":
		if err := store.Migrate(cfg.DBDriver, cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations applied")
		return nil
	case "ban", "unban", "list":
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Config{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer st.Close()
	guard := ban.NewGuard(st, time.Now, log)

	switch cmd {
	case "ban":
		return runBan(ctx, guard, args, out)
	case "unban":
		return runUnban(ctx, guard, args, out)
	default:
		return runList(ctx, guard, out)
	}
}

func runBan(ctx context.Context, guard *ban.Guard, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ban", flag.ContinueOnError)
	user := fs.String("user", "", "Username to ban")
	days := fs.Int("days", 1, "Ban length in days")
	reason := fs.String("reason", "", "Reason shown to the user")
	by := fs.String("by", "operator", "Moderator recorded on the ban")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	b, err := guard.Ban(ctx, *user, *days, *reason, *by)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "banned %s until %s\n", b.Username, b.Expiry().UTC().Format(time.RFC3339))
	return nil
}

func runUnban(ctx context.Context, guard *ban.Guard, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("unban", flag.ContinueOnError)
	user := fs.String("user", "", "Username to unban")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	existed, err := guard.Unban(ctx, *user)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(out, "%s is not banned\n", *user)
		return nil
	}
	fmt.Fprintf(out, "unbanned %s\n", *user)
	return nil
}

func runList(ctx context.Context, guard *ban.Guard, out io.Writer) error {
	bans, err := guard.Active(ctx)
	if err != nil {
		return err
	}
	if len(bans) == 0 {
		fmt.Fprintln(out, "no active bans")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tUNTIL\tBY\tREASON")
	for _, b := range bans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			b.Username, b.Expiry().UTC().Format(time.RFC3339), b.BannedBy, b.Reason)
	}
	return tw.Flush()
}

// runCheck screens text with the configured blocklist, the same filter the
// server applies when CONTENT_FILTER is on.
func runCheck(cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("check needs the text to screen")
	}
	terms := cfg.BlockedTerms
	if len(terms) == 0 {
		terms = moderation.DefaultTerms
	}

	res := moderation.NewFilterWithTerms(terms).Check(strings.Join(args, " "))
	if !res.Blocked {
		fmt.Fprintln(out, "clean")
		return nil
	}
	fmt.Fprintf(out, "blocked: %s %q\n", res.Reason, res.Term)
	return nil
}
