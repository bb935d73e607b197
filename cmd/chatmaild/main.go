package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatmail/internal/account"
	"github.com/matheus3301/chatmail/internal/daemon"
	"github.com/matheus3301/chatmail/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	levelFlag := flag.String("log-level", "", "log level (debug, info, warn, error); defaults to log_level in config.toml")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := *levelFlag
	if level == "" {
		level = account.LogLevel()
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			AccountName: accountName,
			LogLevel:    logging.ParseLevel(level),
		}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}
