package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatmail/internal/account"
	"github.com/matheus3301/chatmail/internal/api"
	"github.com/matheus3301/chatmail/internal/client"
	"github.com/matheus3301/chatmail/internal/config"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "init" {
		cmdInit(accountName, args[1:])
		return
	}

	socketPath := account.SocketPath(accountName)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for account %q: %v\n", accountName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "events" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdEvents(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := runner{ctx: ctx, c: c, json: *jsonFlag}
	switch args[0] {
	case "status":
		r.call(api.AccountServiceName, "GetStatus", nil)
	case "chats":
		r.call(api.ChatServiceName, "ListChats", nil)
	case "chat":
		need(args, 3, "chatmailctl chat <new ADDR|show ID|accept ID>")
		switch args[1] {
		case "new":
			r.call(api.ChatServiceName, "CreateChat", map[string]any{"addr": args[2]})
		case "show":
			r.call(api.ChatServiceName, "GetChat", map[string]any{"chat_id": id(args[2])})
		case "accept":
			r.call(api.ChatServiceName, "AcceptChat", map[string]any{"chat_id": id(args[2])})
		default:
			unknown("chat", args[1])
		}
	case "messages":
		need(args, 2, "chatmailctl messages <chat_id>")
		r.call(api.MessageServiceName, "ListMessages", map[string]any{"chat_id": id(args[1])})
	case "send":
		need(args, 3, "chatmailctl send <chat_id> <text>")
		r.call(api.MessageServiceName, "SendText", map[string]any{
			"chat_id": id(args[1]),
			"text":    strings.Join(args[2:], " "),
		})
	case "react":
		need(args, 2, "chatmailctl react <msg_id> [emoji...]")
		r.call(api.MessageServiceName, "SendReaction", map[string]any{
			"msg_id":   id(args[1]),
			"reaction": strings.Join(args[2:], " "),
		})
	case "reactions":
		need(args, 2, "chatmailctl reactions <msg_id>")
		r.call(api.MessageServiceName, "GetReactions", map[string]any{"msg_id": id(args[1])})
	case "download":
		need(args, 2, "chatmailctl download <msg_id>")
		r.call(api.MessageServiceName, "DownloadFull", map[string]any{"msg_id": id(args[1])})
	case "timer":
		need(args, 3, "chatmailctl timer <get CHAT|set CHAT SECONDS>")
		switch args[1] {
		case "get":
			r.call(api.ChatServiceName, "GetEphemeralTimer", map[string]any{"chat_id": id(args[2])})
		case "set":
			need(args, 4, "chatmailctl timer set <chat_id> <seconds>")
			r.call(api.ChatServiceName, "SetEphemeralTimer", map[string]any{
				"chat_id": id(args[2]),
				"timer":   id(args[3]),
			})
		default:
			unknown("timer", args[1])
		}
	case "call":
		need(args, 3, "chatmailctl call <place CHAT [INFO]|accept MSG [INFO]|end MSG|info MSG>")
		info := strings.Join(args[3:], " ")
		switch args[1] {
		case "place":
			r.call(api.CallServiceName, "PlaceCall", map[string]any{"chat_id": id(args[2]), "info": info})
		case "accept":
			r.call(api.CallServiceName, "AcceptCall", map[string]any{"msg_id": id(args[2]), "info": info})
		case "end":
			r.call(api.CallServiceName, "EndCall", map[string]any{"msg_id": id(args[2])})
		case "info":
			r.call(api.CallServiceName, "GetCallInfo", map[string]any{"msg_id": id(args[2])})
		default:
			unknown("call", args[1])
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatmailctl [--account <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init [flags]                  Write the account configuration")
	fmt.Fprintln(os.Stderr, "  status                        Show account status")
	fmt.Fprintln(os.Stderr, "  chats                         List chats")
	fmt.Fprintln(os.Stderr, "  chat new <addr>               Open a chat with an address")
	fmt.Fprintln(os.Stderr, "  chat show <chat_id>           Show a chat")
	fmt.Fprintln(os.Stderr, "  chat accept <chat_id>         Accept a contact request")
	fmt.Fprintln(os.Stderr, "  messages <chat_id>            List messages of a chat")
	fmt.Fprintln(os.Stderr, "  send <chat_id> <text>         Send a text message")
	fmt.Fprintln(os.Stderr, "  react <msg_id> [emoji...]     Set or retract our reaction")
	fmt.Fprintln(os.Stderr, "  reactions <msg_id>            Show reactions to a message")
	fmt.Fprintln(os.Stderr, "  download <msg_id>             Download a partial message in full")
	fmt.Fprintln(os.Stderr, "  timer get <chat_id>           Show the ephemeral timer")
	fmt.Fprintln(os.Stderr, "  timer set <chat_id> <secs>    Change the ephemeral timer (0 disables)")
	fmt.Fprintln(os.Stderr, "  call place <chat_id> [info]   Start a call")
	fmt.Fprintln(os.Stderr, "  call accept <msg_id> [info]   Accept an incoming call")
	fmt.Fprintln(os.Stderr, "  call end <msg_id>             Hang up or decline")
	fmt.Fprintln(os.Stderr, "  call info <msg_id>            Show call state")
	fmt.Fprintln(os.Stderr, "  events [prefix]               Stream events, e.g. \"call.\"")
}

type runner struct {
	ctx  context.Context
	c    *client.Client
	json bool
}

func (r runner) call(service, method string, req map[string]any) {
	if req == nil {
		req = map[string]any{}
	}
	resp, err := r.c.Call(r.ctx, service, method, req)
	if err != nil {
		fail(err)
	}
	if r.json {
		outputJSON(resp.AsMap())
		return
	}
	printStruct(resp.AsMap(), "")
}

func cmdEvents(c *client.Client, prefix string, jsonOut bool) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events, err := c.Subscribe(ctx, prefix)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := events.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fail(err)
		}
		if jsonOut {
			outputJSON(evt.AsMap())
			continue
		}
		printEvent(evt)
	}
}

func printEvent(evt *structpb.Struct) {
	f := evt.GetFields()
	at := time.UnixMilli(int64(f["occurred_at_unix_ms"].GetNumberValue()))
	payload, _ := json.Marshal(f["payload"].GetStructValue().AsMap())
	fmt.Printf("%s %-32s %s\n", at.Format(time.TimeOnly), f["kind"].GetStringValue(), payload)
}

func cmdInit(accountName string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	addr := fs.String("addr", "", "email address")
	password := fs.String("password", "", "password for IMAP and SMTP")
	displayName := fs.String("display-name", "", "name shown to contacts")
	imapHost := fs.String("imap-host", "", "IMAP server host")
	imapPort := fs.Int("imap-port", config.DefaultIMAPPort, "IMAP server port")
	smtpHost := fs.String("smtp-host", "", "SMTP server host")
	smtpPort := fs.Int("smtp-port", config.DefaultSMTPPort, "SMTP server port")
	downloadLimit := fs.Uint("download-limit", 0, "fetch larger messages partially (bytes, 0 = unlimited)")
	_ = fs.Parse(args)

	a := &config.Account{
		Addr:          *addr,
		DisplayName:   *displayName,
		IMAP:          config.IMAP{Host: *imapHost, Port: *imapPort, Password: *password},
		SMTP:          config.SMTP{Host: *smtpHost, Port: *smtpPort},
		DownloadLimit: uint32(*downloadLimit),
	}
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		fail(err)
	}
	if err := account.EnsureDir(accountName); err != nil {
		fail(err)
	}
	path := account.AccountConfigPath(accountName)
	if err := config.SaveAccount(path, a); err != nil {
		fail(err)
	}
	fmt.Printf("Account %q written to %s\n", accountName, path)
}

func printStruct(m map[string]any, indent string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			fmt.Printf("%s%s:\n", indent, k)
			printStruct(v, indent+"  ")
		case []any:
			fmt.Printf("%s%s: (%d)\n", indent, k, len(v))
			for _, item := range v {
				if sub, ok := item.(map[string]any); ok {
					fmt.Printf("%s  -\n", indent)
					printStruct(sub, indent+"    ")
				} else {
					fmt.Printf("%s  - %v\n", indent, item)
				}
			}
		case float64:
			fmt.Printf("%s%s: %s\n", indent, k, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			fmt.Printf("%s%s: %v\n", indent, k, v)
		}
	}
}

func id(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail(fmt.Errorf("invalid number %q", s))
	}
	return n
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func unknown(cmd, sub string) {
	fmt.Fprintf(os.Stderr, "unknown %s subcommand: %s\n", cmd, sub)
	os.Exit(1)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
