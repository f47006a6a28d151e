package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/reva/bridge/internal/middleware"
	"github.com/reva/bridge/pkg/sdk"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	baseURL := os.Getenv("REVA_REVIEW_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	reviewer := os.Getenv("REVA_REVIEWER")
	if reviewer == "" {
		reviewer = os.Getenv("USER")
	}

	client := sdk.NewClient(sdk.Config{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    os.Getenv("REVA_REVIEW_TOKEN"),
		Reviewer: reviewer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = cmdList(ctx, client)
	case "show":
		err = cmdShow(ctx, client, os.Args[2:])
	case "accept":
		err = cmdAccept(ctx, client, os.Args[2:])
	case "reject":
		err = cmdReject(ctx, client, os.Args[2:])
	case "history":
		err = cmdHistory(ctx, client, os.Args[2:])
	case "hash-token":
		err = cmdHashToken(os.Args[2:])
	case "version":
		fmt.Printf("reva-review v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`reva review CLI v` + version + `

Usage: reva-review <command> [args]

Commands:
  list                          List pending actions in submission order
  show <id>                     Show one pending action
  accept <id>...                Accept and apply actions
  reject <id> --reason <text>   Reject an action; the caller sees the reason
  history [--limit N]           Show recent decisions (default 20)
  hash-token <token>            Print the bcrypt hash for review.token_hash
  version                       Print version
  help                          Show this help

Environment:
  REVA_REVIEW_URL     Review API URL (default: http://localhost:8080)
  REVA_REVIEW_TOKEN   Bearer token
  REVA_REVIEWER       Name recorded with each decision (default: $USER)`)
}

func cmdList(ctx context.Context, client *sdk.Client) error {
	pending, err := client.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending actions.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tNAME\tLOCATION\tAGE\tDESCRIPTION")
	for _, a := range pending {
		loc := a.Location
		if a.Symbol != "" {
			loc += " (" + a.Symbol + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			a.Sequence, a.ID, a.Name, loc, time.Since(a.SubmittedAt).Round(time.Second), truncate(a.Description, 60))
	}
	return tw.Flush()
}

func cmdShow(ctx context.Context, client *sdk.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reva-review show <id>")
	}
	a, err := client.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("ID:          %s\nName:        %s\nLocation:    %s %s\nSubmitted:   %s\nDescription: %s\n",
		a.ID, a.Name, a.Location, a.Symbol, a.SubmittedAt.Format(time.RFC3339), a.Description)
	return nil
}

func cmdAccept(ctx context.Context, client *sdk.Client, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("usage: reva-review accept <id>...")
	}
	failed := 0
	for _, id := range ids {
		if err := client.Accept(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("✓ accepted %s\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d actions not accepted", failed, len(ids))
	}
	return nil
}

func cmdReject(ctx context.Context, client *sdk.Client, args []string) error {
	var id, reason string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--reason", "-r":
			i++
			if i < len(args) {
				reason = args[i]
			}
		default:
			id = args[i]
		}
	}
	if id == "" || reason == "" {
		return fmt.Errorf("usage: reva-review reject <id> --reason <text>")
	}

	if err := client.Reject(ctx, id, reason); err != nil {
		return err
	}
	fmt.Printf("✓ rejected %s\n", id)
	return nil
}

func cmdHistory(ctx context.Context, client *sdk.Client, args []string) error {
	limit := 20
	for i := 0; i < len(args); i++ {
		if args[i] == "--limit" || args[i] == "-n" {
			i++
			if i < len(args) {
				n, err := strconv.Atoi(args[i])
				if err != nil {
					return fmt.Errorf("--limit: %w", err)
				}
				limit = n
			}
		}
	}

	decisions, err := client.Decisions(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOLVED\tOUTCOME\tREVIEWER\tLOCATION\tDESCRIPTION\tREASON")
	for _, d := range decisions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ResolvedAt.Format(time.DateTime), d.Outcome, d.Reviewer, d.Location, truncate(d.Description, 40), d.Reason)
	}
	return tw.Flush()
}

func cmdHashToken(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reva-review hash-token <token>")
	}
	h, err := middleware.HashToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
