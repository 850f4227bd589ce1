package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mealdash/internal/identity"
)

var (
	cardOut      string
	cardSize     int
	cardRecovery string
	profileBase  string
)

var cardCmd = &cobra.Command{
	Use:   "card STUDENT_ID",
	Short: "Render a student's QR card as PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		l, _, err := openRoster(ctx)
		if err != nil {
			return err
		}
		rec, err := lookupStudent(ctx, l, args[0])
		if err != nil {
			return err
		}
		r, err := identity.NewRenderer(cardSize, cardRecovery)
		if err != nil {
			return err
		}
		png, err := identity.Cards{Encoder: identity.Encoder{ProfileBase: profileBase}, Renderer: r}.Render(ctx, rec)
		if err != nil {
			return err
		}
		out := cardOut
		if out == "" {
			out = rec.ID + ".png"
		}
		if err := os.WriteFile(out, png, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes) for %s\n", out, len(png), rec.Name)
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode IMAGE",
	Short: "Decode a photo of a card and look the student up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		l, _, err := openRoster(ctx)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		img, err := identity.ReadImage(bytes.NewReader(data))
		if err != nil {
			return err
		}
		res := identity.NewDecoder(l).Decode(ctx, img)
		switch res.Kind {
		case identity.Matched:
			printStudent(cmd, res.Student)
			return nil
		case identity.NotFound:
			return fmt.Errorf("no QR code found in %s", args[0])
		}
		return fmt.Errorf("%s (%s)", res.Message(), res.Kind)
	},
}

func init() {
	cardCmd.Flags().StringVarP(&cardOut, "out", "o", "", "output file (default: <id>.png)")
	cardCmd.Flags().IntVar(&cardSize, "size", 256, "image edge in pixels")
	cardCmd.Flags().StringVar(&cardRecovery, "recovery", "medium", "error correction: low, medium, high or highest")
	cardCmd.Flags().StringVar(&profileBase, "profile-base", "", "profile link base embedded in the payload")
}
