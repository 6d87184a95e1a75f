package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var scriptPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a scripted conversation non-interactively",
		Long:  "Feeds one user turn per line from a script file (or stdin) and prints the final service request JSON if the booking completes.",
		Example: `  bookline run --script booking.txt
  cat booking.txt | bookline run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(scriptPath)
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "script file with one user turn per line (default stdin)")

	return cmd
}

// runScript replays a scripted conversation and exits. Blank lines and
// lines starting with # are skipped.
func runScript(scriptPath string) error {
	cfg := initConfig()

	p, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel()
	}

	in := os.Stdin
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}

	driver, _, cleanup, err := buildDriver(cfg, p)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "assistant> "+driver.Greeting())

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fmt.Fprintln(os.Stderr, "you> "+line)
		result, err := driver.ProcessTurn(ctx, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "assistant> "+result.Reply)

		if result.Done {
			if result.Request != nil {
				data, err := result.Request.Encode()
				if err != nil {
					return fmt.Errorf("encode request: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}
			return fmt.Errorf("conversation ended without a booking (stage %s)", result.Stage)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	return fmt.Errorf("script ended before the booking completed (stage %s)", driver.Stage())
}
