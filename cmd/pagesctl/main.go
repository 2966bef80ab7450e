package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/splax/pagesmith/pkg/api/client"
)

var (
	buildVersion = "dev"
	pollInterval = 2 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiBase string
	root := &cobra.Command{
		Use:           "pagesctl",
		Short:         "Submit and inspect pagesmith deployments",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("PAGESMITH_API", "http://localhost:5000"), "API base URL")

	newClient := func() (*apiclient.Client, error) {
		return apiclient.New(apiBase)
	}
	root.AddCommand(newDeployCmd(newClient), newStatusCmd(newClient), newHealthCmd(newClient))
	return root
}

type clientFactory func() (*apiclient.Client, error)

func newDeployCmd(newClient clientFactory) *cobra.Command {
	var (
		req    apiclient.DeploymentRequest
		secret string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Submit a deployment request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Task) == "" {
				return errors.New("--task is required")
			}
			if strings.TrimSpace(req.Brief) == "" {
				return errors.New("--brief is required")
			}
			resolved, err := resolveSecret(secret)
			if err != nil {
				return err
			}
			req.Secret = resolved
			if req.Nonce == "" {
				req.Nonce = uuid.NewString()
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			ack, err := client.Submit(ctx, req)
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s round %d (nonce %s)\n", ack.Task, ack.Round, req.Nonce)
			if !wait {
				return nil
			}
			return waitAndPrint(cmd, client, req.Task, req.Round, 5*time.Minute)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Task, "task", "", "Task identifier")
	flags.IntVar(&req.Round, "round", 1, "Round number; rounds above 1 update the existing repository")
	flags.StringVar(&req.Brief, "brief", "", "Free-text app description")
	flags.StringVar(&req.Email, "email", "", "Requester email")
	flags.StringVar(&req.EvaluationURL, "evaluation-url", "", "Callback URL notified on success")
	flags.StringVar(&req.Nonce, "nonce", "", "Nonce echoed in the callback (random when empty)")
	flags.StringVar(&secret, "secret", "", "Shared secret (falls back to PAGESMITH_SECRET, then a prompt)")
	flags.BoolVar(&wait, "wait", false, "Wait for the deployment outcome")
	return cmd
}

func newStatusCmd(newClient clientFactory) *cobra.Command {
	var (
		wait    bool
		round   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <task>",
		Short: "Show the latest recorded outcome for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if wait {
				return waitAndPrint(cmd, client, args[0], round, timeout)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			st, err := client.Status(ctx, args[0])
			if apiclient.IsNotFound(err) {
				return fmt.Errorf("task %s has no recorded outcome yet", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until an outcome is recorded")
	cmd.Flags().IntVar(&round, "round", 0, "With --wait, keep polling until this round has an outcome")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait")
	return cmd
}

func newHealthCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			h, err := client.Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		},
	}
}

func waitAndPrint(cmd *cobra.Command, client *apiclient.Client, task string, round int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = os.Stderr
	s.Suffix = " waiting for " + task
	s.Start()
	st, err := client.WaitStatus(ctx, task, round, pollInterval)
	s.Stop()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no outcome for %s after %s", task, timeout)
		}
		return err
	}
	return printJSON(cmd, st)
}

// resolveSecret prefers the flag, then PAGESMITH_SECRET, then a no-echo
// prompt when stdin is a terminal.
func resolveSecret(flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("PAGESMITH_SECRET")); v != "" {
		return v, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("secret required: pass --secret or set PAGESMITH_SECRET")
	}
	fmt.Fprint(os.Stderr, "Secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
