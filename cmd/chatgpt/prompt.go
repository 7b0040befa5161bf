package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/CoCo-27/chatgpt-api/application/session"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
)

// sender is the part of a session the prompt loop drives.
type sender interface {
	SendMessage(ctx context.Context, text string, opts *session.SendOptions) (*conversation.Result, error)
	ResetThread()
}

// promptLoop reads one prompt per line and streams each answer to out.
// "/reset" starts a new conversation and "/quit" ends the loop.
func promptLoop(ctx context.Context, s sender, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			return nil
		case "/reset":
			s.ResetThread()
			fmt.Fprintln(out, "(new conversation)")
		default:
			if err := ask(ctx, s, line, out); err != nil {
				fmt.Fprintf(out, "\nerror: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func ask(ctx context.Context, s sender, text string, out io.Writer) error {
	printed := 0
	res, err := s.SendMessage(ctx, text, &session.SendOptions{
		OnProgress: func(p conversation.Progress) {
			printed += writeDelta(out, p.Text, printed)
		},
	})
	if err != nil {
		return err
	}
	writeDelta(out, res.Response, printed)
	fmt.Fprintln(out)
	return nil
}

// writeDelta writes the part of the cumulative text not yet printed and
// returns how many bytes it wrote.
func writeDelta(out io.Writer, text string, printed int) int {
	if len(text) <= printed {
		return 0
	}
	n, _ := io.WriteString(out, text[printed:])
	return n
}
