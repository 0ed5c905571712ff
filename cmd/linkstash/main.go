package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexjbarnes/linkstash/internal/client"
	"github.com/alexjbarnes/linkstash/internal/clientstate"
	"github.com/alexjbarnes/linkstash/internal/config"
	"github.com/alexjbarnes/linkstash/internal/controller"
	"github.com/alexjbarnes/linkstash/internal/logging"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

const usage = `usage: linkstash <command> [args]

commands:
  login [token]             exchange a Raindrop token for a session (reads stdin when omitted)
  spaces                    list spaces
  links [space-id] [pages]  list links in a space (default space when omitted)
  add <url>                 queue a link and sync it when logged in
  sync                      send queued links to the default space
  move <link-id> <space-id> move a link to another space
  delete <link-id>          delete a link
  logout                    revoke the session and forget it
  version                   print the version
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	if args[0] == "version" {
		fmt.Fprintln(stdout, Version)
		return nil
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLoggerTo(os.Stderr, cfg.Environment, cfg.LogLevel)

	store, err := clientstate.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewClient(nil, cfg.ServerURL)
	ctrl := controller.New(api, store, cfg.DefaultSpaceTitle, logger)

	logger.Debug("linkstash starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.String("command", args[0]),
	)

	snap, err := dispatch(ctx, ctrl, args, stdin)
	if err != nil {
		return err
	}

	if err := printSnapshot(stdout, snap); err != nil {
		return err
	}

	return snap.Err
}

func dispatch(ctx context.Context, ctrl *controller.Controller, args []string, stdin io.Reader) (controller.Snapshot, error) {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		if len(rest) > 1 {
			return controller.Snapshot{}, errUsage
		}

		token := ""
		if len(rest) == 1 && rest[0] != "-" {
			token = rest[0]
		} else {
			var err error
			if token, err = readToken(stdin); err != nil {
				return controller.Snapshot{}, err
			}
		}

		return ctrl.UseToken(ctx, token), nil

	case "logout":
		ctrl.Initialize(ctx)
		return ctrl.Logout(ctx), nil
	}

	// Every other command starts from the restored session.
	snap := ctrl.Initialize(ctx)
	if snap.Err != nil {
		return snap, nil
	}

	switch cmd {
	case "spaces":
		return snap, nil

	case "links":
		if len(rest) > 2 {
			return snap, errUsage
		}

		if len(rest) > 0 && rest[0] != "" {
			snap = ctrl.SelectSpace(ctx, rest[0])
		}

		pages := 1
		if len(rest) == 2 {
			if _, err := fmt.Sscanf(rest[1], "%d", &pages); err != nil || pages < 1 {
				return snap, errUsage
			}
		}

		for i := 1; i < pages && snap.Err == nil && snap.NextCursor != ""; i++ {
			snap = ctrl.LoadMore(ctx)
		}

		return snap, nil

	case "add":
		if len(rest) != 1 {
			return snap, errUsage
		}

		return ctrl.ShareURL(ctx, rest[0]), nil

	case "sync":
		if !snap.IsAuthenticated {
			return ctrl.Refresh(ctx), nil
		}

		return ctrl.SyncPending(ctx), nil

	case "move":
		if len(rest) != 2 {
			return snap, errUsage
		}

		return ctrl.MoveLink(ctx, rest[0], rest[1]), nil

	case "delete":
		if len(rest) != 1 {
			return snap, errUsage
		}

		return ctrl.DeleteLink(ctx, rest[0]), nil

	default:
		return snap, errUsage
	}
}

func readToken(stdin io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Raindrop token: ")

	scanner := bufio.NewScanner(stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}

		return "", errors.New("no token on stdin")
	}

	return strings.TrimSpace(scanner.Text()), nil
}

func printSnapshot(w io.Writer, snap controller.Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return enc.Close()
}
