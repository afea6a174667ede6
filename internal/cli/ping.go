package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect to every configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runPing(ctx, cmd, rootOpts)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect timeout")
	return cmd
}

func runPing(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	backends, err := cfg.Open(logger(rootOpts, cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range backends {
			b.Close()
		}
	}()

	var (
		mu     sync.Mutex
		status = make([]string, len(backends))
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			start := time.Now()
			err := b.Connect(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status[i] = fmt.Sprintf("%s (%s): %v", b.Name(), b.Dialect(), err)
				return fmt.Errorf("backend %q: %w", b.Name(), err)
			}
			status[i] = fmt.Sprintf("%s (%s): ok%s", b.Name(), b.Dialect(), elapsed(rootOpts, start))
			return nil
		})
	}
	err = g.Wait()
	for _, s := range status {
		if s != "" {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
	}
	return err
}

func elapsed(opts *RootOptions, start time.Time) string {
	if !opts.Verbose {
		return ""
	}
	return " in " + time.Since(start).Round(time.Millisecond).String()
}
