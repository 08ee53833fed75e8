// Command sealctl sends and reads sealed messages from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"sealedmsg/internal/config"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/jwtsigner"
	"sealedmsg/internal/observability/logging"
	"sealedmsg/pkg/sealclient"
)

var (
	version = "dev"

	cfg       config.ClientConfig
	logger    *slog.Logger
	verbose   bool
	assumeYes bool
)

var rootCmd = &cobra.Command{
	Use:           "sealctl",
	Short:         "Send and read messages that stay sealed until their unlock conditions hold",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadClient()
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger = logging.NewLogger(logging.Config{
			Level:  level,
			Format: "text",
			Output: os.Stderr,
		})
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "approve session authorizations without prompting")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct codes so scripts can tell a locked
// message from a broken setup.
func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return 2
	case domain.ErrAuthorization:
		return 3
	case domain.ErrStateConflict:
		return 4
	case domain.ErrNotReady, domain.ErrTransient:
		return 5
	case domain.ErrResolution:
		return 6
	}
	return 1
}

// dial loads the local identity and connects to every service.
func dial(ctx context.Context) (*sealclient.Client, error) {
	id, err := sealclient.LoadIdentity(sealclient.IdentityPath(cfg))
	if errors.Is(err, sealclient.ErrNoIdentity) {
		return nil, fmt.Errorf("no identity found; run `sealctl identity init` first")
	}
	if err != nil {
		return nil, err
	}
	return sealclient.Dial(ctx, cfg, id, confirmAuthorization, logger)
}

func loadIdentity() (*jwtsigner.Signer, error) {
	return sealclient.LoadIdentity(sealclient.IdentityPath(cfg))
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: message id must be a positive integer", domain.ErrValidation)
	}
	return id, nil
}
