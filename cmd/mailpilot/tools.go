package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/service"
)

var sendersCmd = &cobra.Command{
	Use:   "senders",
	Short: "List the configured sender accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, s := range a.Jobs.Senders() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", s.Name, s.Email)
		}
		return nil
	},
}

var (
	previewFile   string
	previewEmail  string
	previewName   string
	previewSender string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Generate the email one recipient would receive, without sending",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var r model.Recipient
		if previewEmail != "" {
			r = model.Recipient{model.EmailField: previewEmail}
			if previewName != "" {
				r["name"] = previewName
			}
		} else {
			res, err := loadRecipients(ctx, a.Recipients, previewFile)
			if err != nil {
				return err
			}
			if res.Count() == 0 {
				return service.ErrNoRecipients
			}
			r = res.Recipients[0]
		}

		msg, err := a.Jobs.Preview(ctx, r, previewSender)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "To:      %s\nSubject: %s\n\n%s\n", r.Email(), msg.Subject, msg.Body)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the argon2id hash for security.operator_password_hash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			password = strings.TrimRight(line, "\r\n")
		}

		if err := auth.ValidatePassword(password); err != nil {
			return err
		}
		hash, err := auth.HashPassword(password, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow job status events published by the server over Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		n := service.NewRedisNotifier(rdb, log)
		out := cmd.OutOrStdout()
		if ev, ok, err := n.Last(ctx); err == nil && ok {
			fmt.Fprintln(out, progressLine(ev.State))
		}
		return n.Watch(ctx, func(ev service.StatusEvent) bool {
			fmt.Fprintln(out, progressLine(ev.State))
			return true
		})
	},
}

func init() {
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "take the first recipient of this file (default: Google Sheet)")
	previewCmd.Flags().StringVar(&previewEmail, "email", "", "preview for this address instead of a list")
	previewCmd.Flags().StringVar(&previewName, "name", "", "recipient name used with --email")
	previewCmd.Flags().StringVarP(&previewSender, "sender", "s", "", "sender address from the configured pool")

	rootCmd.AddCommand(sendersCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(watchCmd)
}

