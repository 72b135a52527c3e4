package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ChamodiJayakody/barcode-app/internal/app"
	"github.com/ChamodiJayakody/barcode-app/internal/capture"
	"github.com/ChamodiJayakody/barcode-app/internal/config"
	"github.com/ChamodiJayakody/barcode-app/internal/decoder"
)

var (
	hitColor  = color.New(color.FgGreen, color.Bold)
	missColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

var decodeCmd = &cobra.Command{
	Use:   "decode <image>...",
	Short: "Decode barcodes from image files with the configured decoder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		dec, stop, err := app.NewDecoder(ctx, cfg.Decoder)
		if err != nil {
			return err
		}
		defer stop()

		out := cmd.OutOrStdout()
		failures := 0
		for _, path := range args {
			value, err := decodeFile(ctx, dec, path)
			switch {
			case err == nil:
				fmt.Fprintf(out, "%s %s\n", hitColor.Sprint("HIT "), value)
			case decoder.IsMiss(err):
				fmt.Fprintf(out, "%s %s\n", missColor.Sprint("MISS"), path)
			default:
				failures++
				fmt.Fprintf(out, "%s %s: %v\n", failColor.Sprint("FAIL"), path, err)
			}
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d images failed to decode", failures, len(args))
		}
		return nil
	},
}

func decodeFile(ctx context.Context, dec decoder.Decoder, path string) (string, error) {
	frame, err := capture.LoadImageFile(path)
	if err != nil {
		return "", err
	}
	return dec.Decode(ctx, &frame)
}
