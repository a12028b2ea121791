package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/model"
)

var logFailedOnly bool

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the delivery log",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Jobs.Log(cmd.Context())
		if err != nil {
			return err
		}
		printLog(cmd.OutOrStdout(), entries, logFailedOnly)
		return nil
	},
}

var logClearYes bool

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase the delivery log so every recipient is sent again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !logClearYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Erase the delivery log?")
			if err != nil || !ok {
				return err
			}
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Jobs.ClearLog(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Delivery log cleared.")
		return nil
	},
}

func init() {
	logCmd.Flags().BoolVar(&logFailedOnly, "failed", false, "only show failed deliveries")
	logClearCmd.Flags().BoolVarP(&logClearYes, "yes", "y", false, "skip the confirmation prompt")
	logCmd.AddCommand(logClearCmd)
	rootCmd.AddCommand(logCmd)
}

func printLog(out io.Writer, entries []model.DeliveryRecord, failedOnly bool) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEMAIL\tNAME\tSTATUS\tERROR")
	var sent, failed int
	for _, e := range entries {
		if e.Status == model.DeliveryStatusSent {
			sent++
		} else {
			failed++
		}
		if failedOnly && e.Status != model.DeliveryStatusFailed {
			continue
		}
		ts := ""
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ts, e.Email, e.Name, e.Status, e.Error)
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d records: %d sent, %d failed\n", len(entries), sent, failed)
}
