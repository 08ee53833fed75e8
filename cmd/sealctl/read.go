package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sealedmsg/internal/domain"
	"sealedmsg/internal/preview"
)

func init() {
	readCmd.Flags().Bool("wait", false, "wait until the message unlocks")
	readCmd.Flags().StringP("output", "o", "", "write a file payload to this path")
	previewCmd.Flags().StringP("output", "o", "", "write the preview image to this path")
	inboxCmd.Flags().Int("limit", 50, "maximum number of messages to list")
	rootCmd.AddCommand(statusCmd, payCmd, readCmd, previewCmd, inboxCmd)
}

func state(m domain.Metadata) string {
	switch {
	case m.IsRead:
		return "read"
	case m.IsUnlocked:
		return "unlocked"
	default:
		return "locked"
	}
}

func printStatus(cmd *cobra.Command, m domain.Metadata) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Message %d: %s\n", m.ID, state(m))
	fmt.Fprintf(out, "  From: %s\n  To:   %s\n", m.Sender, m.Receiver)
	if m.Mask.Has(domain.CondTime) {
		fmt.Fprintf(out, "  Unlock time: %s (%s)\n",
			time.Unix(m.UnlockTime, 0).Format(time.RFC3339), humanize.Time(time.Unix(m.UnlockTime, 0)))
	}
	if m.Mask.Has(domain.CondPayment) {
		fmt.Fprintf(out, "  Paid: %s of %s\n",
			humanize.Comma(int64(m.PaidAmount)), humanize.Comma(int64(m.RequiredPayment)))
	}
	if m.Preview != nil {
		fmt.Fprintf(out, "  Preview: %s\n", m.Preview.MimeType)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the unlock state of a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		m, err := c.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		printStatus(cmd, m)
		return nil
	},
}

var payCmd = &cobra.Command{
	Use:   "pay <id> <amount>",
	Short: "Pay toward a message's unlock condition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil || amount == 0 {
			return fmt.Errorf("%w: amount must be a positive integer", domain.ErrValidation)
		}
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		m, err := c.Pay(cmd.Context(), id, amount)
		if err != nil {
			return err
		}
		printStatus(cmd, m)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Decrypt an unlocked message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")
		output, _ := cmd.Flags().GetString("output")

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		if wait {
			logger.Info("waiting for message to unlock", "id", id)
			if _, err := c.WaitUnlocked(cmd.Context(), id); err != nil {
				return err
			}
		}
		p, err := c.Read(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if p.File == nil {
			fmt.Fprintln(out, p.Text)
			return nil
		}
		fmt.Fprintf(out, "File %q (%s, %s)\n", p.File.Name, p.File.MimeType, humanize.Bytes(uint64(len(p.File.Data))))
		if output == "" {
			fmt.Fprintln(out, "Pass --output to save it.")
			return nil
		}
		if err := os.WriteFile(output, p.File.Data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved to %s\n", output)
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Fetch the preview published for a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := c.Preview(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if rec == nil {
			fmt.Fprintln(out, "No preview published yet.")
			return nil
		}
		mime, data, err := preview.ParseDataURL(rec.PreviewDataURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Preview %s, %s, updated %s\n", mime, humanize.Bytes(uint64(len(data))), humanize.Time(rec.UpdatedAt))
		if output != "" {
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved to %s\n", output)
		}
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List messages addressed to this identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		msgs, err := c.Inbox(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tFROM\tRECEIVED")
		for _, m := range msgs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, state(m), m.Sender, humanize.Time(m.CreatedAt))
		}
		return w.Flush()
	},
}
