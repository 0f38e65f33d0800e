package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/drpcorg/roomsync/api"
	"github.com/drpcorg/roomsync/client"
)

func (repl *REPL) CommandLogin(ctx context.Context) error {
	l, err := repl.cli.LoginAnonymous(ctx)
	if err != nil {
		return err
	}
	repl.login = &l
	repl.printf("logged in as %s\n", l.UserID)
	return nil
}

func (repl *REPL) CommandCreate(ctx context.Context) error {
	if repl.login == nil {
		return ErrNoLogin
	}
	id, err := repl.cli.Create(ctx, repl.login.Token, api.InitializeRequest{})
	if err != nil {
		return err
	}
	repl.printf("created session %s\n", id)
	return repl.CommandConnect(ctx, []string{id})
}

func (repl *REPL) CommandConnect(ctx context.Context, args []string) error {
	if repl.login == nil {
		return ErrNoLogin
	}
	if len(args) != 1 {
		return ErrUsage
	}
	if repl.conn != nil {
		repl.conn.Disconnect()
	}
	repl.conn = repl.cli.Connect(ctx, repl.login.Token, args[0], repl.onUpdate, repl.onFailure)
	return nil
}

func (repl *REPL) CommandDisconnect() error {
	if repl.conn == nil {
		return ErrNoConnection
	}
	repl.conn.Disconnect()
	repl.conn = nil
	return nil
}

func (repl *REPL) CommandCall(ctx context.Context, cmd string, args []string) (err error) {
	if repl.conn == nil {
		return ErrNoConnection
	}
	var resp api.Response
	switch cmd {
	case "join":
		resp, err = repl.conn.JoinGame(ctx, api.JoinGameRequest{})
	case "start":
		resp, err = repl.conn.StartGame(ctx, api.StartGameRequest{})
	case "draw":
		resp, err = repl.conn.DrawCard(ctx, api.DrawCardRequest{})
	case "play":
		var card api.Card
		if card, err = parseCard(args); err != nil {
			return err
		}
		resp, err = repl.conn.PlayCard(ctx, api.PlayCardRequest{Card: card})
	}
	if err != nil {
		return err
	}
	if !resp.IsOk() {
		repl.printf("refused: %s\n", resp.Error)
	}
	return nil
}

func (repl *REPL) CommandState() error {
	if repl.conn == nil {
		return ErrNoConnection
	}
	state, at := repl.conn.Replica()
	repl.printState(state, at)
	return nil
}

func formatCard(c api.Card) string {
	return fmt.Sprintf("%d %s", c.Value, c.Color)
}

func (repl *REPL) printState(s api.PlayerState, at uint64) {
	hand := make([]string, 0, len(s.Hand))
	for _, c := range s.Hand {
		hand = append(hand, formatCard(c))
	}
	pile := "-"
	if s.Pile != nil {
		pile = formatCard(*s.Pile)
	}
	repl.printf("@%d players [%s] turn %s pile %s\n  hand [%s]\n", at, strings.Join(s.Players, ", "), s.Turn, pile, strings.Join(hand, ", "))
	if s.Winner != nil {
		repl.printf("  winner %s\n", *s.Winner)
	}
}

func (repl *REPL) onUpdate(u client.UpdateArgs) {
	for _, ev := range u.Events {
		repl.printf("* %s\n", ev)
	}
	repl.printState(u.State, u.UpdatedAt)
}

func (repl *REPL) onFailure(f client.ConnectionFailure) {
	repl.printf("connection lost: %s\n", f.Error())
}
