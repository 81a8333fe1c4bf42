package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

func quotaCommand() *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Show a student's request and token usage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "student",
				Usage:    "Student ID",
				Required: true,
				Sources:  cli.EnvVars("TUTORGATE_STUDENT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := a.Ledger.Status(ctx, cmd.String("student"))
			if err != nil {
				return err
			}

			out := writer(cmd)
			fmt.Fprintf(out, "requests: %d/%d used, %d remaining, resets %s\n",
				st.RequestsUsed, st.RequestLimit, st.RemainingRequests, formatReset(st.RequestsResetAt))
			fmt.Fprintf(out, "tokens:   %d/%d used, %d remaining, resets %s\n",
				st.TokensUsed, st.TokenLimit, st.RemainingTokens, formatReset(st.TokensResetAt))
			return nil
		},
	}
}

func formatReset(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
