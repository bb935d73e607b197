package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/chatmail/internal/tui/model"
)

// Command is a parsed ":" prompt line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a prompt line into a lower-case name and its
// arguments. A leading ':' is ignored.
func ParseCommand(input string) Command {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// outcome tells the app what to show after a command ran.
type outcome int

const (
	stay outcome = iota
	quit
	showHelp
	showThread
)

func execute(ctx context.Context, vm *model.ViewModel, cmd Command) (outcome, error) {
	switch cmd.Name {
	case "":
		return stay, nil
	case "q", "quit":
		return quit, nil
	case "h", "help":
		return showHelp, nil
	case "new":
		if len(cmd.Args) != 1 {
			return stay, usage("new ADDR")
		}
		return showThread, vm.CreateChat(ctx, cmd.Args[0])
	case "accept-chat":
		return stay, vm.AcceptChat(ctx)
	case "timer":
		if len(cmd.Args) != 1 {
			return stay, usage("timer SECONDS|off")
		}
		secs, err := parseTimer(cmd.Args[0])
		if err != nil {
			return stay, err
		}
		return stay, vm.SetTimer(ctx, secs)
	case "react":
		if len(cmd.Args) < 1 {
			return stay, usage("react ID [EMOJI...]")
		}
		id, err := parseID(cmd.Args[0])
		if err != nil {
			return stay, err
		}
		return stay, vm.React(ctx, id, strings.Join(cmd.Args[1:], " "))
	case "download":
		if len(cmd.Args) != 1 {
			return stay, usage("download ID")
		}
		id, err := parseID(cmd.Args[0])
		if err != nil {
			return stay, err
		}
		return stay, vm.Download(ctx, id)
	case "call":
		return stay, vm.PlaceCall(ctx, strings.Join(cmd.Args, " "))
	case "accept":
		return stay, vm.AcceptCall(ctx, strings.Join(cmd.Args, " "))
	case "hangup", "decline":
		return stay, vm.EndCall(ctx)
	}
	return stay, fmt.Errorf("unknown command %q, :help lists them", cmd.Name)
}

func usage(s string) error {
	return fmt.Errorf("usage: :%s", s)
}

func parseTimer(s string) (int64, error) {
	if strings.EqualFold(s, "off") {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("timer must be seconds or off, got %q", s)
	}
	return n, nil
}

func parseID(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return n, nil
}
