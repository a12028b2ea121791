package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/model"
	mailpilot "github.com/mailpilot/mailpilot/sdk/go"
)

var (
	remoteURL      string
	remoteToken    string
	remotePassword string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Control a running MailPilot server",
}

func newRemoteClient(cmd *cobra.Command) (*mailpilot.Client, error) {
	token := remoteToken
	if token == "" {
		token = os.Getenv("MAILPILOT_TOKEN")
	}
	c := mailpilot.NewClient(mailpilot.Config{BaseURL: remoteURL, Token: token})
	if token == "" && remotePassword != "" {
		if _, err := c.Login(cmd.Context(), remotePassword); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func remoteState(st *mailpilot.JobState) model.JobState {
	return model.JobState{
		Total:         st.Total,
		Current:       st.Current,
		Sent:          st.Sent,
		Failed:        st.Failed,
		CurrentEmail:  st.CurrentEmail,
		StatusMessage: st.StatusMessage,
	}
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the job state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newRemoteClient(cmd)
		if err != nil {
			return err
		}
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Phase:   %s\n", st.Phase)
		if st.Sender != "" {
			fmt.Fprintf(out, "Sender:  %s\n", st.Sender)
		}
		fmt.Fprintln(out, progressLine(remoteState(st)))
		return nil
	},
}

var remoteStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running job to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newRemoteClient(cmd)
		if err != nil {
			return err
		}
		stopped, err := c.Stop(cmd.Context())
		if err != nil {
			return err
		}
		if stopped {
			fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No job is running.")
		}
		return nil
	},
}

var remoteResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Force the job state back to idle",
	Long: `Marks the job idle without interrupting a worker that is still running.
Such a worker keeps sending and recording deliveries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newRemoteClient(cmd)
		if err != nil {
			return err
		}
		st, err := c.Reset(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.StatusMessage)
		return nil
	},
}

var remoteLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the server's delivery log",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newRemoteClient(cmd)
		if err != nil {
			return err
		}
		entries, err := c.Log(cmd.Context())
		if err != nil {
			return err
		}
		records := make([]model.DeliveryRecord, 0, len(entries))
		for _, e := range entries {
			records = append(records, model.DeliveryRecord{
				Email:     e.Email,
				Name:      e.Name,
				Status:    model.DeliveryStatus(e.Status),
				Timestamp: e.Timestamp,
				Error:     e.Error,
			})
		}
		printLog(cmd.OutOrStdout(), records, false)
		return nil
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteURL, "url", "http://localhost:5002", "server base URL")
	remoteCmd.PersistentFlags().StringVar(&remoteToken, "token", "", "operator access token (default: $MAILPILOT_TOKEN)")
	remoteCmd.PersistentFlags().StringVar(&remotePassword, "password", "", "log in with the operator password")

	remoteCmd.AddCommand(remoteStatusCmd)
	remoteCmd.AddCommand(remoteStopCmd)
	remoteCmd.AddCommand(remoteResetCmd)
	remoteCmd.AddCommand(remoteLogCmd)
	rootCmd.AddCommand(remoteCmd)
}
