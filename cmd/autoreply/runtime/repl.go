package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/orchestrator"

	"github.com/google/shlex"
)

const (
	defaultListLimit = 20
	replHelp         = `Commands:
  evaluate <requester> <responder> <message>   run the auto-response pipeline
  add <from> <to> <message> [RFC3339 time]      store a chat message
  list <user> [limit]                           show recent messages sent by user
  log <responder> [limit]                       show auto-responses sent for responder
  prune                                         drop expired cache entries
  help                                          show this help
  quit                                          leave the session`
)

// REPL is a line-oriented shell over the runtime. Arguments are split with
// shell quoting rules.
type REPL struct {
	components *RuntimeComponents
	formatter  *TableFormatter
	reader     *bufio.Reader
	out        io.Writer
}

func NewREPL(components *RuntimeComponents, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		components: components,
		formatter:  NewTableFormatter(),
		reader:     bufio.NewReader(in),
		out:        out,
	}
}

func (r *REPL) Start() error {
	fmt.Fprintln(r.out, "Auto-response session. Type 'help' for commands, 'quit' to leave.")

	for {
		select {
		case <-r.components.Ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(r.out, "> ")
		line, err := r.reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			if execErr := r.Execute(r.components.Ctx, line); execErr != nil {
				if execErr == io.EOF {
					return nil
				}
				fmt.Fprintf(r.out, "error: %v\n", execErr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Execute runs a single command line. It returns io.EOF for quit.
func (r *REPL) Execute(ctx context.Context, line string) error {
	parts, parseErr := shlex.Split(line)
	if parseErr != nil {
		slog.Debug("Falling back to whitespace split", "error", parseErr)
		parts = strings.Fields(line)
	}
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "quit", "exit", "/exit":
		return io.EOF
	case "help":
		fmt.Fprintln(r.out, replHelp)
		return nil
	case "evaluate", "eval":
		return r.evaluate(ctx, args)
	case "add":
		return r.add(ctx, args)
	case "list":
		return r.list(ctx, args)
	case "log":
		return r.log(ctx, args)
	case "prune":
		n := r.components.PruneCache(ctx)
		fmt.Fprintf(r.out, "Pruned %d expired cache entries\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func (r *REPL) evaluate(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: evaluate <requester> <responder> <message>")
	}
	out := r.components.Evaluate(ctx, orchestrator.Request{
		RequesterID: args[0],
		ResponderID: args[1],
		Message:     strings.Join(args[2:], " "),
	})
	fmt.Fprintln(r.out, r.formatter.FormatOutcome(out))
	return nil
}

func (r *REPL) add(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("usage: add <from> <to> <message> [RFC3339 time]")
	}
	msg := history.Message{SenderID: args[0], RecipientID: args[1], Content: args[2]}
	if len(args) == 4 {
		at, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			return fmt.Errorf("parse time %q: %w", args[3], err)
		}
		msg.SentAt = at
	}

	stored, err := r.components.AddMessage(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Stored message %s\n", stored.ID)
	return nil
}

func (r *REPL) list(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: list <user> [limit]")
	}
	limit, err := parseLimit(args[1:])
	if err != nil {
		return err
	}
	msgs, err := r.components.History.FetchRecentMessages(ctx, args[0], limit, time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.formatter.FormatMessages(msgs))
	return nil
}

func (r *REPL) log(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: log <responder> [limit]")
	}
	limit, err := parseLimit(args[1:])
	if err != nil {
		return err
	}
	recs, err := r.components.History.ListAutoResponses(ctx, args[0], limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.formatter.FormatAutoResponses(recs))
	return nil
}

func parseLimit(args []string) (int, error) {
	if len(args) == 0 {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", args[0])
	}
	return n, nil
}
