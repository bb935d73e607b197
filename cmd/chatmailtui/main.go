package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatmail/internal/account"
	"github.com/matheus3301/chatmail/internal/api"
	"github.com/matheus3301/chatmail/internal/client"
	"github.com/matheus3301/chatmail/internal/logging"
	"github.com/matheus3301/chatmail/internal/tui"
	"go.uber.org/zap"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFile(account.TUILogPath(accountName), accountName, logging.ParseLevel(account.LogLevel()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open log: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	c, err := client.New(account.SocketPath(accountName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if !daemonReady(c) {
		fmt.Fprintf(os.Stderr, "daemon not running for account %q, starting...\n", accountName)
		if err := startDaemon(accountName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(c, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready, see %s\n", account.LogPath(accountName))
			os.Exit(1)
		}
	}

	if err := tui.NewApp(c, logger).Run(); err != nil {
		logger.Error("tui exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// daemonReady reports whether the daemon answers a status call.
func daemonReady(c *client.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Call(ctx, api.AccountServiceName, "GetStatus", nil)
	return err == nil
}

// startDaemon launches chatmaild from next to this binary, or from PATH.
func startDaemon(accountName string) error {
	daemon := "chatmaild"
	if exe, err := os.Executable(); err == nil {
		if local := filepath.Join(filepath.Dir(exe), daemon); fileExists(local) {
			daemon = local
		}
	}
	// The daemon outlives this process and logs to its own file; its
	// console output would draw over the UI.
	return exec.Command(daemon, "-account", accountName).Start()
}

func waitForDaemon(c *client.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if daemonReady(c) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
