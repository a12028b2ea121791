package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/recipients"
	"github.com/mailpilot/mailpilot/internal/service"
)

var (
	sendFile   string
	sendSender string
	sendYes    bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send to every recipient not yet in the delivery log",
	Long: `Loads recipients from --file (CSV or Excel) or the configured Google
Sheet, reports how many were already sent, asks for confirmation and runs
the job in the foreground. Ctrl-C stops at the next recipient.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "CSV or Excel recipient file (default: Google Sheet)")
	sendCmd.Flags().StringVarP(&sendSender, "sender", "s", "", "sender address from the configured pool")
	sendCmd.Flags().BoolVarP(&sendYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(sendCmd)
}

func loadRecipients(ctx context.Context, svc *service.RecipientService, file string) (recipients.Result, error) {
	if file == "" {
		return svc.Sheets(ctx)
	}
	f, err := os.Open(file)
	if err != nil {
		return recipients.Result{}, err
	}
	defer f.Close()
	return recipients.Parse(filepath.Base(file), f)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	res, err := loadRecipients(ctx, a.Recipients, sendFile)
	if err != nil {
		return err
	}
	sent, err := a.Jobs.SentEmails(ctx)
	if err != nil {
		return err
	}
	pending := service.Pending(res.Recipients, sent)

	fmt.Fprintf(out, "Recipients:   %d", res.Count())
	if res.Skipped > 0 {
		fmt.Fprintf(out, " (%d rows skipped)", res.Skipped)
	}
	fmt.Fprintf(out, "\nAlready sent: %d\nPending:      %d\n", res.Count()-len(pending), len(pending))
	if len(pending) == 0 {
		fmt.Fprintln(out, "Nothing to send.")
		return nil
	}

	if !sendYes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Send %d emails?", len(pending)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if _, err := a.Jobs.Start(ctx, res.Recipients, sendSender); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	st := follow(ctx, out, a.Jobs, sig, time.Second)
	printSummary(out, st)
	if st.Phase == model.JobPhaseErrored {
		return errors.New(st.StatusMessage)
	}
	return nil
}

type statusSource interface {
	Status() model.JobState
	RequestStop() bool
	Wait(ctx context.Context) error
}

// follow prints progress until the job leaves the running state
func follow(ctx context.Context, out io.Writer, jobs statusSource, sig <-chan os.Signal, every time.Duration) model.JobState {
	done := make(chan struct{})
	go func() {
		jobs.Wait(ctx)
		close(done)
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-done:
			return jobs.Status()
		case <-sig:
			fmt.Fprintln(out, "\nStopping after the current recipient...")
			jobs.RequestStop()
		case <-ticker.C:
			st := jobs.Status()
			line := progressLine(st)
			if line != last {
				fmt.Fprintln(out, line)
				last = line
			}
		}
	}
}

func progressLine(st model.JobState) string {
	line := fmt.Sprintf("[%d/%d] sent=%d failed=%d  %s", st.Current, st.Total, st.Sent, st.Failed, st.StatusMessage)
	if st.CurrentEmail != "" {
		line += "  " + st.CurrentEmail
	}
	return line
}

func printSummary(out io.Writer, st model.JobState) {
	fmt.Fprintf(out, "\n%s\n", st.StatusMessage)
	fmt.Fprintf(out, "Sent:   %d\nFailed: %d\nTotal:  %d\n", st.Sent, st.Failed, st.Total)
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
