package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/y0ug/depwner/internal/events"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/service"
)

var (
	scanDBPath    string
	scanRulesPath string
	scanType      string
	scanQuiet     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a file or a folder and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		opts := service.Options{
			SignatureDBPath:  scanDBPath,
			PatternRulesPath: scanRulesPath,
			ScanType:         models.ScanType(scanType),
		}
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			opts.FolderPath = args[0]
		} else {
			opts.FilePath = args[0]
		}

		if !scanQuiet {
			done := showProgress(svc)
			defer done()
		}

		return printResponse(svc.Scan(ctx, opts))
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanDBPath, "db", "", "Signature database (.csv is imported into an empty store)")
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "Compiled pattern rules for this scan")
	scanCmd.Flags().StringVar(&scanType, "type", string(models.ScanTypeManual), "Scan type (MANUAL, CUSTOM, AUTOSCAN)")
	scanCmd.Flags().BoolVarP(&scanQuiet, "quiet", "q", false, "Do not draw a progress bar")
}

// showProgress draws a progress bar on stderr from scan progress events.
// The returned func stops drawing and waits for the drawer to exit.
func showProgress(svc *service.Service) func() {
	ch, unsubscribe := svc.Subscribe(256)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Scanning files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for ev := range ch {
			switch ev.Type {
			case events.ScanProgress:
				st, ok := ev.Data.(models.ScanStatus)
				if !ok {
					continue
				}
				if st.TotalFiles > 0 && bar.GetMax() != st.TotalFiles {
					bar.ChangeMax(st.TotalFiles)
				}
				bar.Set(st.Progress)
			case events.ThreatFound:
				if r, ok := ev.Data.(models.Result); ok {
					bar.Describe(fmt.Sprintf("Threat: %s", r.Path))
				}
			case events.ScanCompleted:
				bar.Finish()
			}
		}
	}()

	return func() {
		unsubscribe()
		<-exited
		fmt.Fprintln(os.Stderr)
	}
}
