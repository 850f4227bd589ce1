// Command mdmctl is the operator CLI for the meal dashboard: it prints
// student cards, decodes card photos, replays scans and imports rosters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mealdash/internal/config"
	"mealdash/internal/logging"
	"mealdash/internal/roster"
	"mealdash/internal/store"
)

var (
	rosterFile  string
	rosterDB    string
	verbose     bool
	cliLogger   = zap.NewNop()
	cliRosterDB *store.DB
)

var rootCmd = &cobra.Command{
	Use:           "mdmctl",
	Short:         "Meal dashboard operator tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logging.New("dev", level)
		if err != nil {
			return err
		}
		cliLogger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cliRosterDB != nil {
			_ = cliRosterDB.Close()
		}
		_ = cliLogger.Sync()
	},
}

func init() {
	cfg := config.Load()
	rootCmd.PersistentFlags().StringVar(&rosterFile, "roster", cfg.RosterFile, "YAML roster file (default: built-in sample roster)")
	rootCmd.PersistentFlags().StringVar(&rosterDB, "database-url", "", "read and write the Postgres roster instead of a file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(cardCmd, decodeCmd, scanCmd, importCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openRoster returns the roster selected by the persistent flags.
func openRoster(ctx context.Context) (roster.Lookup, roster.Writer, error) {
	if rosterDB != "" {
		db, err := store.NewDB(ctx, rosterDB)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		cliRosterDB = db
		repo := roster.NewRepository(db.Client)
		return repo, repo, nil
	}
	if rosterFile == "" {
		mem := roster.SeedRoster()
		return mem, mem, nil
	}
	mem, err := roster.LoadYAML(rosterFile)
	if err != nil {
		return nil, nil, err
	}
	return mem, mem, nil
}

func lookupStudent(ctx context.Context, l roster.Lookup, id string) (roster.StudentRecord, error) {
	rec, ok, err := l.LookupByID(ctx, id)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, fmt.Errorf("student %q is not on the roster", id)
	}
	return rec, nil
}

func printStudent(cmd *cobra.Command, rec roster.StudentRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:      %s\n", rec.ID)
	fmt.Fprintf(out, "Name:    %s\n", rec.Name)
	fmt.Fprintf(out, "Status:  %s\n", rec.HealthStatus)
	if rec.Details != "" {
		fmt.Fprintf(out, "Details: %s\n", rec.Details)
	}
}
