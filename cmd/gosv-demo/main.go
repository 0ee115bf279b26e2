// Command gosv-demo exercises the process/group core against real child
// processes, in the spirit of the teacher's demo mode. Config-file loading
// is out of scope for this module (spec.md Non-goals); everything here is
// wired up directly in Go rather than parsed from a file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kornnellio/gosv-core/group"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		runCmd     string
		runArgs    []string
		numProcs   int
		autoR      string
		pollMillis int
	)

	root := &cobra.Command{
		Use:   "gosv-demo",
		Short: "Drive the gosv process-supervision core against a real command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), runCmd, runArgs, numProcs, autoR, pollMillis)
		},
	}

	root.Flags().StringVar(&runCmd, "cmd", "/bin/sh", "executable to spawn")
	root.Flags().StringSliceVar(&runArgs, "args", []string{"sh", "-c", "echo '[gosv-demo] alive'; sleep 2"}, "argv (comma-separated)")
	root.Flags().IntVar(&numProcs, "numprocs", 2, "number of identical children to spawn")
	root.Flags().StringVar(&autoR, "autorestart", "unexpected", "unexpected|always|never")
	root.Flags().IntVar(&pollMillis, "poll-ms", 250, "MonitorChildren poll interval, milliseconds")

	return root
}

func runDemo(ctx context.Context, path string, args []string, numProcs int, autoR string, pollMillis int) error {
	log := logrus.WithField("component", "gosv-demo")

	g := group.New("demo")
	g.Cmd = path
	g.Argv = args
	g.Envp = os.Environ()
	g.NumProcs = numProcs
	g.StartRetries = 3
	g.StartTime = 1
	g.StartSecs = 1
	g.StopSignal = syscall.SIGTERM
	g.StopTimeout = 5
	g.BackoffDelaySeconds = 1
	g.RedirectStdout = false
	g.RedirectStderr = false

	switch autoR {
	case "always":
		g.Autorestart = group.AutorestartAlways
	case "never":
		g.Autorestart = group.AutorestartNever
	default:
		g.Autorestart = group.AutorestartUnexpected
	}

	if err := g.SpawnChildren(); err != nil {
		return fmt.Errorf("spawn children: %w", err)
	}
	log.WithFields(logrus.Fields{
		"cmd":      path,
		"numprocs": numProcs,
	}).Info("children spawned")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(pollMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("shutdown requested, stopping children")
			if err := g.StopChildren(); err != nil {
				log.WithError(err).Warn("stop children reported errors")
			}
			return drainUntilStopped(g, ticker)
		case <-ticker.C:
			if err := g.MonitorChildren(); err != nil {
				log.WithError(err).Warn("monitor pass reported errors")
			}
			if g.GroupState() == group.StateFatal {
				log.Error("group reached fatal state, exiting")
				return fmt.Errorf("group %q is fatal", g.Name)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainUntilStopped keeps calling MonitorChildren after a StopChildren
// request until every child has been reaped, a clock.System-driven analogue
// of the teacher's gracefulShutdown wait loop.
func drainUntilStopped(g *group.Group, ticker *time.Ticker) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		<-ticker.C
		if err := g.MonitorChildren(); err != nil {
			logrus.WithError(err).Warn("monitor during shutdown reported errors")
		}
		if g.AllExited() {
			return nil
		}
	}
	return fmt.Errorf("children did not all exit before shutdown deadline")
}
