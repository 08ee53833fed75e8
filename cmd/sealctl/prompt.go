package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"sealedmsg/internal/session"
)

var errNoTerminal = errors.New("session authorization needs a terminal; pass --yes to approve non-interactively")

// confirmAuthorization asks the user to approve a new decryption session.
// It runs at most once per session lifetime.
func confirmAuthorization(ctx context.Context, a session.Authorization) error {
	start := time.Unix(a.StartTimestamp, 0)
	fmt.Fprintf(os.Stderr, "\nAuthorize a decryption session\n")
	fmt.Fprintf(os.Stderr, "  Identity:    %s\n", a.Receiver)
	fmt.Fprintf(os.Stderr, "  Scope:       %s\n", a.Scope)
	fmt.Fprintf(os.Stderr, "  Session key: %s\n", a.PublicKey)
	fmt.Fprintf(os.Stderr, "  Valid:       %s until %s\n",
		start.Format(time.RFC3339), start.AddDate(0, 0, a.DurationDays).Format(time.RFC3339))

	if assumeYes {
		fmt.Fprintln(os.Stderr, "Approved (--yes).")
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errNoTerminal
	}

	answer := make(chan string, 1)
	go func() {
		fmt.Fprint(os.Stderr, "Sign this authorization? [y/N]: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ans := <-answer:
		if ans == "y" || ans == "yes" {
			return nil
		}
		return errors.New("declined by user")
	}
}
