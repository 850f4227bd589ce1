package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mealdash/internal/capture"
	"mealdash/internal/identity"
	"mealdash/internal/lookup"
	"mealdash/internal/roster"
)

var (
	scanTick    time.Duration
	scanTimeout time.Duration
	scanLoop    bool
	scanFacing  string
	scanCardOut string
)

// scanCmd replays a directory of frames through the same controller the
// kiosk sessions use.
var scanCmd = &cobra.Command{
	Use:   "scan FRAMES_DIR",
	Short: "Run a scan over recorded camera frames",
	Long: `Replay the PNG, JPEG and GIF files in FRAMES_DIR, in file name order,
as camera frames. The scan stops at the first readable card or when
--timeout elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTick, "tick", 33*time.Millisecond, "interval between decode attempts")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Second, "give up after this long")
	scanCmd.Flags().BoolVar(&scanLoop, "loop", false, "repeat the frames until a result or timeout")
	scanCmd.Flags().StringVar(&scanFacing, "facing", string(capture.FacingEnvironment), "camera facing mode: environment or user")
	scanCmd.Flags().StringVar(&scanCardOut, "card-out", "", "write the resolved student's card to this file")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	facing, err := capture.ParseFacing(scanFacing)
	if err != nil {
		return err
	}
	l, _, err := openRoster(ctx)
	if err != nil {
		return err
	}
	frames, err := capture.LoadFrames(args[0])
	if err != nil {
		return err
	}
	r, err := identity.NewRenderer(identity.DefaultSize, "medium")
	if err != nil {
		return err
	}

	settled := make(chan lookup.Transition, 4)
	ctrl := lookup.New(lookup.Options{
		Pipeline: capture.NewPipeline(&capture.SequenceDevice{Frames: frames, Loop: scanLoop}, cliLogger.Named("capture")),
		Ticks:    capture.Interval(scanTick),
		Decoder:  identity.NewDecoder(l),
		Roster:   l,
		Cards:    identity.Cards{Renderer: r},
		Logger:   cliLogger.Named("lookup"),
		Listener: func(t lookup.Transition) {
			if t.To == lookup.Failed || t.To == lookup.Resolved {
				settled <- t
			}
		},
	})
	defer ctrl.Close()

	if _, err := ctrl.StartScan(ctx, facing); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "scanning %d frame(s) from %s\n", len(frames), args[0])

	timer := time.NewTimer(scanTimeout)
	defer timer.Stop()
	select {
	case t := <-settled:
		if t.To == lookup.Failed {
			return errors.New(ctrl.TakeError())
		}
	case <-timer.C:
		ctrl.Cancel()
		return fmt.Errorf("no card found within %s", scanTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	snap := ctrl.Snapshot()
	printStudent(cmd, *snap.Selected)
	if scanCardOut != "" {
		return writeCard(ctx, ctrl, scanCardOut)
	}
	return nil
}

// writeCard waits for the controller's async card render.
func writeCard(ctx context.Context, ctrl *lookup.Controller, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		snap := ctrl.Snapshot()
		if len(snap.Card) > 0 {
			return os.WriteFile(path, snap.Card, 0o644)
		}
		if !snap.CardPending {
			if msg := ctrl.TakeError(); msg != "" {
				return errors.New(msg)
			}
			return errors.New("card was not rendered")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

var importCmd = &cobra.Command{
	Use:   "import-roster FILE.xlsx",
	Short: "Import students from a spreadsheet",
	Long: `Upsert students from the first sheet of an xlsx file. Columns are
id, name, status and details; the first row is a header. Without
--database-url the import only checks the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, w, err := openRoster(ctx)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		res, err := roster.ImportSpreadsheet(ctx, f, w)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "imported %d, skipped %d\n", res.Imported, res.Skipped)
		for _, p := range res.Problems {
			fmt.Fprintln(out, "  ", p)
		}
		return nil
	},
}
