package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ineyio/tutorgate"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask the tutor a question; without one, start an interactive session",
		ArgsUsage: "[question]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "student",
				Usage:    "Student ID charged for the request",
				Required: true,
				Sources:  cli.EnvVars("TUTORGATE_STUDENT"),
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session ID to continue",
			},
			&cli.BoolFlag{
				Name:  "sources",
				Usage: "Print the course passages the answer was grounded on",
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "Restrict retrieval to passages whose metadata matches `KEY=VALUE` (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			filter, err := parseFilter(cmd.StringSlice("filter"))
			if err != nil {
				return err
			}
			s := &asker{
				tutor:    a.Tutor,
				sessions: a.Sessions,
				student:  cmd.String("student"),
				session:  cmd.String("session"),
				sources:  cmd.Bool("sources"),
				filter:   filter,
				out:      writer(cmd),
			}
			if q := strings.Join(cmd.Args().Slice(), " "); strings.TrimSpace(q) != "" {
				return s.ask(ctx, q)
			}
			return s.repl(ctx, reader(cmd))
		},
	}
}

type asker struct {
	tutor    *tutorgate.Tutor
	sessions *tutorgate.Sessions
	student  string
	session  string
	sources  bool
	filter   tutorgate.Filter
	out      io.Writer
}

func (s *asker) ask(ctx context.Context, question string) error {
	resp, err := s.tutor.Handle(ctx, tutorgate.Request{
		StudentID: s.student,
		SessionID: s.session,
		Message:   question,
		Filter:    s.filter,
	})
	if resp.SessionID != "" {
		s.session = resp.SessionID
	}
	if err != nil {
		var denied *tutorgate.DeniedError
		if errors.As(err, &denied) {
			return fmt.Errorf("%w; retry in %s", err, denied.Decision.RetryAfter.Round(time.Second))
		}
		return err
	}

	fmt.Fprintln(s.out, resp.Text)
	if resp.Degraded {
		fmt.Fprintln(s.out, "(answered without course materials)")
	}
	if s.sources {
		for i, p := range resp.Sources {
			fmt.Fprintf(s.out, "[Source %d] %s (score %.2f)\n", i+1, sourceName(p), p.Score)
		}
	}
	return nil
}

// repl reads one question per line until EOF or /quit. Failed questions are
// reported and the session continues.
func (s *asker) repl(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for sc.Scan() {
		switch line := strings.TrimSpace(sc.Text()); line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/history":
			if h := tutorgate.FormatHistory(s.sessions.Get(s.session).Turns); h != "" {
				fmt.Fprintln(s.out, h)
			}
		case "/reset":
			if s.session != "" {
				s.sessions.Delete(s.session)
				s.session = ""
			}
		default:
			if err := s.ask(ctx, line); err != nil {
				if ctx.Err() != nil {
					return err
				}
				fmt.Fprintln(s.out, "error:", err)
			}
		}
		fmt.Fprint(s.out, "> ")
	}
	return sc.Err()
}

func sourceName(p tutorgate.Passage) string {
	if src := p.Metadata["source"]; src != "" {
		return src
	}
	return p.ID
}

// parseFilter turns repeated KEY=VALUE pairs into a Filter. Repeating a key
// widens the match to any of its values.
func parseFilter(pairs []string) (tutorgate.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := make(tutorgate.Filter, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --filter %q: want KEY=VALUE", kv)
		}
		f[k] = append(f[k], strings.TrimSpace(v))
	}
	return f, nil
}
