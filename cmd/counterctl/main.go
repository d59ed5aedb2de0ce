package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"countervm/internal/client"
	"countervm/internal/model"
	"countervm/internal/program"
)

var (
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98FB98"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: counterctl [-server URL] [-program ID] <command> [flags]")
	fmt.Fprintln(os.Stderr, "       counterctl create [-authority ADDR]")
	fmt.Fprintln(os.Stderr, "       counterctl increment -counter ADDR [-authority ADDR]")
	fmt.Fprintln(os.Stderr, "       counterctl get -counter ADDR")
}

func main() {
	var (
		server    = flag.String("server", envOrDefault("COUNTERVM_URL", "http://127.0.0.1:8899"), "countervm server URL")
		programID = flag.String("program", program.DefaultID.String(), "counter program address")
		timeout   = flag.Duration("timeout", 30*time.Second, "request timeout")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	pid, err := model.ParseAddress(*programID)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*server, nil)
	args := flag.Args()
	switch args[0] {
	case "create":
		err = runCreate(ctx, c, pid, args[1:])
	case "increment":
		err = runIncrement(ctx, c, pid, args[1:])
	case "get":
		err = runGet(ctx, c, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
}

// runCreate allocates a counter record owned by the program and initializes it.
func runCreate(ctx context.Context, c *client.Client, programID model.Address, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	authorityStr := fs.String("authority", "", "authority address (random when empty)")
	_ = fs.Parse(args)

	authority, err := addressOrNew(*authorityStr)
	if err != nil {
		return err
	}

	rec, err := c.CreateRecord(ctx, programID, program.CounterSize)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	receipt, err := c.Initialize(ctx, programID, rec.Address, authority)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	fmt.Println(okStyle.Render("Counter created and initialized"))
	printField("counter", rec.Address.String())
	printField("authority", authority.String())
	printField("receipt", receipt.ID.String())
	return nil
}

func runIncrement(ctx context.Context, c *client.Client, programID model.Address, args []string) error {
	fs := flag.NewFlagSet("increment", flag.ExitOnError)
	counterStr := fs.String("counter", "", "counter record address")
	authorityStr := fs.String("authority", "", "authority address (random when empty)")
	_ = fs.Parse(args)

	counter, err := model.ParseAddress(*counterStr)
	if err != nil {
		return err
	}
	authority, err := addressOrNew(*authorityStr)
	if err != nil {
		return err
	}

	receipt, err := c.Increment(ctx, programID, counter, authority)
	if err != nil {
		return fmt.Errorf("increment: %w", err)
	}
	count, err := c.GetCounter(ctx, counter)
	if err != nil {
		return err
	}

	fmt.Println(okStyle.Render(fmt.Sprintf("Counter incremented to %d", count)))
	printField("receipt", receipt.ID.String())
	return nil
}

func runGet(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	counterStr := fs.String("counter", "", "counter record address")
	_ = fs.Parse(args)

	counter, err := model.ParseAddress(*counterStr)
	if err != nil {
		return err
	}
	count, err := c.GetCounter(ctx, counter)
	if err != nil {
		return err
	}
	printField("count", fmt.Sprint(count))
	return nil
}

func addressOrNew(s string) (model.Address, error) {
	if s == "" {
		return model.NewAddress(), nil
	}
	return model.ParseAddress(s)
}

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(label+":"), value)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errStyle.Render("Error:"), err)
	os.Exit(1)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
