package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/client"
	"github.com/drpcorg/roomsync/coordinator"
	"github.com/drpcorg/roomsync/utils"
	"github.com/ergochat/readline"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("login"),
	readline.PcItem("create"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),

	readline.PcItem("join"),
	readline.PcItem("start"),
	readline.PcItem("play"),
	readline.PcItem("draw"),
	readline.PcItem("state"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

var (
	ErrNoLogin      = errors.New("not logged in, use login")
	ErrNoConnection = errors.New("not connected, use connect <session>")
	ErrUsage        = errors.New("bad arguments, see help")
)

type REPL struct {
	cli   *client.Client
	rl    *readline.Instance
	login *client.Login
	conn  *client.Connection
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".roomsync_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.conn != nil {
		repl.conn.Disconnect()
		repl.conn = nil
	}
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

func (repl *REPL) printf(format string, args ...any) {
	if rl := repl.rl; rl != nil {
		fmt.Fprintf(rl, format, args...)
		return
	}
	fmt.Printf(format, args...)
}

func (repl *REPL) REPL() (err error) {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	ctx := context.Background()
	switch cmd {
	case "help":
		repl.printf("login | create | connect <session> | disconnect\njoin | start | play <value> <COLOR> | draw | state\nexit\n")
	case "login":
		err = repl.CommandLogin(ctx)
	case "create":
		err = repl.CommandCreate(ctx)
	case "connect":
		err = repl.CommandConnect(ctx, args)
	case "disconnect":
		err = repl.CommandDisconnect()
	case "join", "start", "play", "draw":
		err = repl.CommandCall(ctx, cmd, args)
	case "state":
		err = repl.CommandState()
	case "exit", "quit":
		err = io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return
}

func main() {
	url := flag.String("url", "http://127.0.0.1:8080", "coordinator HTTP address")
	secret := flag.String("secret", "roomsync-dev-secret", "application secret the server registered with")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	cli, err := client.New(utils.NewLogger(os.Stderr, level, "text"), *url, coordinator.AppID(*secret))
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-2)
	}

	repl := REPL{cli: cli}
	err = repl.Open()
	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
		}
		err = repl.REPL()
	}
	_ = repl.Close()
}

func parseCard(args []string) (api.Card, error) {
	if len(args) != 2 {
		return api.Card{}, ErrUsage
	}
	value, err := strconv.Atoi(args[0])
	if err != nil {
		return api.Card{}, ErrUsage
	}
	color, ok := api.ParseColor(strings.ToUpper(args[1]))
	if !ok {
		return api.Card{}, fmt.Errorf("unknown color %q", args[1])
	}
	return api.Card{Value: value, Color: color}, nil
}
