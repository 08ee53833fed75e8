package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sealedmsg/internal/content"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/preview"
	"sealedmsg/pkg/sealclient"
)

func init() {
	f := sendCmd.Flags()
	f.String("to", "", "receiver identity")
	f.String("text", "", "message text")
	f.String("file", "", "path of a file to send")
	f.String("unlock-at", "", "unlock time, RFC 3339")
	f.Duration("unlock-in", 0, "unlock after this duration")
	f.Uint64("price", 0, "payment required before the message unlocks")
	f.String("preview", "", "image to publish as the preview")
	f.Bool("auto-preview", false, "derive a preview from an image file")
	_ = sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagsMutuallyExclusive("text", "file")
	sendCmd.MarkFlagsOneRequired("text", "file")
	sendCmd.MarkFlagsMutuallyExclusive("unlock-at", "unlock-in")
	sendCmd.MarkFlagsMutuallyExclusive("preview", "auto-preview")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a sealed message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		to, _ := f.GetString("to")
		text, _ := f.GetString("text")
		filePath, _ := f.GetString("file")
		unlockAt, _ := f.GetString("unlock-at")
		unlockIn, _ := f.GetDuration("unlock-in")
		price, _ := f.GetUint64("price")
		previewPath, _ := f.GetString("preview")
		auto, _ := f.GetBool("auto-preview")

		in := sealclient.SendInput{
			Receiver:        domain.Identity(to),
			Text:            text,
			RequiredPayment: price,
			AutoPreview:     auto,
		}
		switch {
		case unlockAt != "":
			t, err := time.Parse(time.RFC3339, unlockAt)
			if err != nil {
				return fmt.Errorf("%w: --unlock-at: %v", domain.ErrValidation, err)
			}
			in.UnlockTime = t
			in.Mask |= domain.CondTime
		case unlockIn > 0:
			in.UnlockTime = time.Now().Add(unlockIn)
			in.Mask |= domain.CondTime
		}
		if price > 0 {
			in.Mask |= domain.CondPayment
		}

		if filePath != "" {
			file, err := readFile(filePath)
			if err != nil {
				return err
			}
			in.File = file
		}
		if previewPath != "" {
			data, err := os.ReadFile(previewPath)
			if err != nil {
				return err
			}
			d, err := preview.Downscale(data, preview.DefaultMaxDimension)
			if err != nil {
				return err
			}
			in.Preview = &d
		}

		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		sent, err := c.Send(cmd.Context(), in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Message %d sent\n", sent.ID)
		if sent.ShortHash != "" {
			fmt.Fprintf(out, "Content stored off-ledger as %s\n", sent.ShortHash)
		}
		if in.Mask.Has(domain.CondTime) {
			fmt.Fprintf(out, "Unlocks %s\n", humanize.Time(in.UnlockTime))
		}
		if in.Mask.Has(domain.CondPayment) {
			fmt.Fprintf(out, "Requires payment of %s\n", humanize.Comma(int64(price)))
		}
		if sent.PreviewErr != nil {
			logger.Warn("preview was not published", "id", sent.ID, "error", sent.PreviewErr)
		}
		return nil
	},
}

func readFile(path string) (*content.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("read file", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return &content.File{
		Name:     filepath.Base(path),
		MimeType: http.DetectContentType(data),
		Data:     data,
	}, nil
}
