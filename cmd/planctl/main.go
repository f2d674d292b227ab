// Package main provides the planctl operator console: a terminal UI that
// subscribes to the Plan Engine's published PlanControlState and PlanControl
// replies over the bus, for an operator watching a mission in progress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/c360studio/planengine/bus"
)

const appName = "planctl"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Operator console for the Plan Engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(natsURL)
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", nats.DefaultURL, "Address of the bus the Plan Engine is connected to")
	return cmd
}

func runConsole(natsURL string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := bus.DefaultOptions()
	opts.URL = natsURL
	opts.Name = appName
	opts.ConnectTimeout = 5 * time.Second

	m := newModel(natsURL)
	program := tea.NewProgram(m)

	go watchBus(ctx, opts, program)
	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, err := program.Run()
	return err
}
