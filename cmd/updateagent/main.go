// Command updateagent is an interactive client for reviewing drafted client
// updates. One process behaves like one open browser tab.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/session"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	cfg, err := config.NewClientConfig()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("updateagent", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "base URL of the Update Agent API")
	flags.StringVar(&cfg.Email, "email", cfg.Email, "default email for the login command")
	verbose := flags.BoolP("verbose", "v", false, "print diagnostic logs to stderr")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.SetOutput(io.Discard)
	if *verbose {
		log.SetOutput(stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := session.NewManager(cfg.APIURL)
	if err != nil {
		return err
	}
	defer manager.Close()

	in := bufio.NewScanner(stdin)
	sh := newShell(cfg, manager, in, stdout)
	sh.readPassword = passwordReader(stdin, in, stdout)

	return sh.run(ctx)
}

// passwordReader prompts without echo when stdin is a terminal, else reads a
// plain line.
func passwordReader(stdin *os.File, in *bufio.Scanner, out io.Writer) func(string) (string, error) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return func(prompt string) (string, error) {
			fmt.Fprint(out, prompt)
			if !in.Scan() {
				return "", io.EOF
			}
			return strings.TrimRight(in.Text(), "\r"), nil
		}
	}

	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}
}
