package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/supportdesk/internal/session"
	"github.com/thebtf/supportdesk/pkg/models"
)

const defaultResolution = "resolved"

// chatter is the part of session.Manager the console drives.
type chatter interface {
	Send(ctx context.Context, content string, msgType models.MessageType, sender string) (models.Message, error)
	RequestStaff(ctx context.Context) error
	Complete(ctx context.Context, resolution string) (*models.SessionHistory, error)
	Retry(ctx context.Context, messageID string) error
}

// readConsole turns stdin lines into session operations:
//
//	/staff          request a staff member
//	/end [reason]   complete the session
//	/retry <id>     resend a failed message
//	anything else   send as a chat message
func readConsole(ctx context.Context, in io.Reader, c chatter, msgType models.MessageType) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := runCommand(ctx, c, msgType, line); err != nil {
				log.Warn().Err(err).Msg("Command failed")
			}
		}
	}
}

func runCommand(ctx context.Context, c chatter, msgType models.MessageType, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/staff":
		return c.RequestStaff(ctx)
	case "/end":
		if arg == "" {
			arg = defaultResolution
		}
		history, err := c.Complete(ctx, arg)
		if err != nil {
			return err
		}
		log.Info().
			Str("sessionId", history.SessionID).
			Int("durationSeconds", history.DurationSeconds).
			Int("messages", history.MessageCount).
			Msg("Session completed")
		return nil
	case "/retry":
		if arg == "" {
			return errors.New("usage: /retry <message id>")
		}
		return c.Retry(ctx, arg)
	}
	_, err := c.Send(ctx, line, msgType, "")
	return err
}

// printEvents writes chat traffic and status changes to out.
func printEvents(ctx context.Context, out io.Writer, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func formatEvent(ev session.Event) string {
	switch ev.Kind {
	case session.MessageAdded:
		return fmt.Sprintf("[%s] %s: %s", ev.Message.Timestamp.Local().Format("15:04"), ev.Message.Sender, ev.Message.Content)
	case session.DeliveryFailed:
		return fmt.Sprintf("! not delivered (%s), /retry %s", ev.Message.Content, ev.Message.ID)
	case session.StatusChanged:
		if ev.Record.AssignedStaff != "" {
			return fmt.Sprintf("* %s (%s)", ev.Record.Status.Label(), ev.Record.AssignedStaff)
		}
		return "* " + ev.Record.Status.Label()
	case session.SessionClosed:
		return "* session ended"
	}
	return ""
}
