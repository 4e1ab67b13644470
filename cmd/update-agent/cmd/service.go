package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/oshokin/device-update-agent/internal/logger"
	"github.com/oshokin/device-update-agent/internal/service/agent"
)

// stopTimeout bounds how long Stop waits for the run to abort.
const stopTimeout = 10 * time.Second

// serviceCmd manages the agent as a system service: the boot-trigger
// collaborator that activates the engine once per boot.
var serviceCmd = &cobra.Command{
	Use:       "service [install|uninstall|start|stop|restart|status|run]",
	Short:     "Manage the update agent as a system service started at boot",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "status", "run"},
	RunE: func(cmd *cobra.Command, args []string) error {
		applyLogLevel()

		svc, err := newSystemService()
		if err != nil {
			return fmt.Errorf("create system service: %w", err)
		}

		action := args[0]

		switch action {
		case "run":
			return svc.Run()
		case "status":
			return printServiceStatus(cmd, svc)
		default:
			if err = service.Control(svc, action); err != nil {
				return fmt.Errorf("%s service: %w", action, err)
			}

			return nil
		}
	},
}

// program adapts the agent to the service.Interface lifecycle.
type program struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start must not block; the activation runs in its own goroutine.
func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		ctx = logger.WithName(ctx, "update-agent-service")

		if err := agent.Run(ctx, &agent.Options{ConfigPath: configPath}); err != nil {
			logger.ErrorKV(ctx, "Agent run failed", "error", err)
		}
	}()

	return nil
}

// Stop aborts the run and returns quickly.
func (p *program) Stop(service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}

	if p.done != nil {
		select {
		case <-p.done:
		case <-time.After(stopTimeout):
		}
	}

	return nil
}

// newSystemService builds the platform service definition. The service is
// ordered after the network so the first connectivity poll has a chance.
func newSystemService() (service.Service, error) {
	options := make(service.KeyValue)

	var depends []string

	switch service.ChosenSystem().String() {
	case "linux-systemd":
		depends = append(depends,
			"Requires=network.target",
			"After=network-online.target")
		options["Restart"] = "on-failure"
		options["RestartSec"] = 10
	case "darwin-launchd":
		options["RunAtLoad"] = true
		options["UserService"] = false
	case "windows-service":
		options["DelayedAutoStart"] = true
	default:
		depends = append(depends,
			"Requires=network.target",
			"After=network-online.target")
	}

	svcConfig := &service.Config{
		Name:         "update-agent",
		DisplayName:  "Device Update Agent",
		Description:  "Keeps the target application installed and current.",
		Arguments:    []string{"service", "run", "--config", configPath},
		Dependencies: depends,
		Option:       options,
	}

	return service.New(&program{}, svcConfig)
}

// printServiceStatus reports whether the installed service is running.
func printServiceStatus(cmd *cobra.Command, svc service.Service) error {
	status, err := svc.Status()
	if err != nil {
		return fmt.Errorf("query service status: %w", err)
	}

	out := cmd.OutOrStdout()

	switch status {
	case service.StatusRunning:
		_, _ = fmt.Fprintln(out, "running")
	case service.StatusStopped:
		_, _ = fmt.Fprintln(out, "stopped")
	default:
		_, _ = fmt.Fprintln(out, "unknown")
	}

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(serviceCmd)
}
