package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/drafts"
	"github.com/vdavid/updateagent/internal/models"
	"github.com/vdavid/updateagent/internal/session"
)

const helpText = `Commands:
  login [email]              sign in
  register <email> <tenant>  create a tenant and sign in
  whoami                     show the signed-in user
  renew                      renew the access token
  list                       reload and list pending drafts
  show <n|id>                show one draft
  edit <n|id>                edit subject and body, then save
  send <n|id>                send a draft to its client
  delete <n|id>              delete a draft
  watch on|off               reload automatically when drafts change
  logout                     sign out
  help                       show this help
  quit                       exit`

// endOfBody terminates a multi-line body typed at the edit prompt.
const endOfBody = "."

type shell struct {
	cfg     *config.ClientConfig
	manager *session.Manager
	store   *drafts.Store
	in      *bufio.Scanner

	outMu sync.Mutex
	out   io.Writer

	readPassword func(prompt string) (string, error)

	watchMu   sync.Mutex
	stopWatch context.CancelFunc

	failures atomic.Int64
}

func newShell(cfg *config.ClientConfig, manager *session.Manager, in *bufio.Scanner, out io.Writer) *shell {
	sh := &shell{
		cfg:     cfg,
		manager: manager,
		in:      in,
		out:     out,
	}
	sh.readPassword = func(prompt string) (string, error) {
		return sh.prompt(prompt)
	}
	sh.store = drafts.NewStore(cfg.APIURL, manager,
		drafts.WithConfirmer(drafts.ConfirmFunc(sh.confirm)),
		drafts.WithErrorHandler(func(err *drafts.OperationError) {
			sh.failures.Add(1)
			sh.printf("Error: %v\n", err)
		}),
	)
	return sh
}

func (sh *shell) run(ctx context.Context) error {
	defer sh.stopWatching()

	sh.manager.Start(ctx)
	if err := sh.manager.WaitReady(ctx); err != nil {
		return err
	}
	sh.printStatus()
	sh.printf("Type \"help\" for commands.\n")

	for {
		line, err := sh.prompt("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if quit := sh.dispatch(ctx, fields[0], fields[1:]); quit {
			return nil
		}
	}
}

// dispatch runs one command and reports whether the shell should exit.
func (sh *shell) dispatch(ctx context.Context, cmd string, args []string) bool {
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		sh.printf("%s\n", helpText)
	case "login":
		sh.login(ctx, args)
	case "register":
		sh.register(ctx, args)
	case "whoami":
		sh.printStatus()
	case "renew":
		if sh.manager.Renew(ctx) {
			sh.printf("Access token renewed.\n")
		} else {
			sh.printStatus()
		}
	case "logout":
		sh.stopWatching()
		sh.manager.Logout(ctx)
		sh.printf("Logged out.\n")
	case "list", "ls":
		if sh.requireLogin() {
			sh.store.Load(ctx)
			sh.printList()
		}
	case "show":
		if item, ok := sh.resolve(args, false); ok {
			sh.printDraft(item)
		}
	case "edit":
		if item, ok := sh.resolve(args, true); ok {
			sh.edit(ctx, item)
		}
	case "send":
		if item, ok := sh.resolve(args, true); ok {
			before := sh.failures.Load()
			sh.store.Send(ctx, item.ID)
			if sh.failures.Load() == before {
				sh.printf("Sent %q.\n", item.Subject)
			}
		}
	case "delete", "rm":
		if item, ok := sh.resolve(args, true); ok {
			before := sh.failures.Load()
			if sh.store.Delete(ctx, item.ID) && sh.failures.Load() == before {
				sh.printf("Deleted %q.\n", item.Subject)
			}
		}
	case "watch":
		sh.watch(ctx, args)
	default:
		sh.printf("Unknown command %q. Type \"help\" for commands.\n", cmd)
	}
	return false
}

func (sh *shell) login(ctx context.Context, args []string) {
	email := sh.cfg.Email
	if len(args) > 0 {
		email = args[0]
	}
	if email == "" {
		var err error
		if email, err = sh.prompt("Email: "); err != nil {
			return
		}
	}

	password, err := sh.readPassword("Password: ")
	if err != nil {
		return
	}

	if err := sh.manager.Login(ctx, strings.TrimSpace(email), password); err != nil {
		sh.printf("%s\n", session.Message(err))
		return
	}
	sh.printStatus()
}

func (sh *shell) register(ctx context.Context, args []string) {
	if len(args) < 1 {
		sh.printf("Usage: register <email> <tenant name>\n")
		return
	}
	email := args[0]
	tenantName := strings.Join(args[1:], " ")

	password, err := sh.readPassword("Password: ")
	if err != nil {
		return
	}
	name, err := sh.prompt("Full name (optional): ")
	if err != nil {
		return
	}

	var fullName *string
	if name = strings.TrimSpace(name); name != "" {
		fullName = &name
	}

	if err := sh.manager.Register(ctx, email, password, fullName, tenantName); err != nil {
		sh.printf("%s\n", session.Message(err))
		return
	}
	sh.printStatus()
}

func (sh *shell) edit(ctx context.Context, item models.PendingUpdate) {
	sh.store.StartEdit(item)
	buffer, _ := sh.store.EditBuffer()

	subject, err := sh.prompt(fmt.Sprintf("Subject [%s]: ", buffer.Subject))
	if err != nil {
		sh.store.Discard()
		return
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = buffer.Subject
	}

	sh.printf("Body (end with a line containing only %q, empty keeps the current body):\n", endOfBody)
	var lines []string
	for {
		line, err := sh.prompt("")
		if err != nil {
			sh.store.Discard()
			return
		}
		if line == endOfBody {
			break
		}
		lines = append(lines, line)
	}
	body := buffer.Body
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}

	before := sh.failures.Load()
	sh.store.UpdateBuffer(subject, body)
	sh.store.SaveEdit(ctx)
	if sh.failures.Load() == before {
		sh.printf("Saved %q.\n", subject)
	}
}

func (sh *shell) watch(ctx context.Context, args []string) {
	if len(args) == 1 && args[0] == "off" {
		sh.stopWatching()
		sh.printf("Stopped watching.\n")
		return
	}
	if len(args) > 1 || (len(args) == 1 && args[0] != "on") {
		sh.printf("Usage: watch on|off\n")
		return
	}
	if !sh.requireLogin() {
		return
	}

	sh.watchMu.Lock()
	defer sh.watchMu.Unlock()
	if sh.stopWatch != nil {
		sh.printf("Already watching.\n")
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	sh.stopWatch = cancel
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- sh.store.Watch(watchCtx, ready)
	}()

	select {
	case <-ready:
		sh.printf("Watching for changes.\n")
		go func() {
			err := <-done
			if watchCtx.Err() == nil {
				sh.printf("Stopped watching: %v\n", err)
			}
			sh.clearWatch(watchCtx)
		}()
	case err := <-done:
		cancel()
		sh.stopWatch = nil
		sh.printf("Cannot watch for changes: %v\n", err)
	}
}

// clearWatch forgets the watcher started with watchCtx if it is still current.
func (sh *shell) clearWatch(watchCtx context.Context) {
	sh.watchMu.Lock()
	defer sh.watchMu.Unlock()
	if sh.stopWatch != nil && watchCtx.Err() == nil {
		sh.stopWatch()
		sh.stopWatch = nil
	}
}

func (sh *shell) stopWatching() {
	sh.watchMu.Lock()
	defer sh.watchMu.Unlock()
	if sh.stopWatch != nil {
		sh.stopWatch()
		sh.stopWatch = nil
	}
}

func (sh *shell) confirm(prompt string) bool {
	answer, err := sh.prompt(prompt + " [y/N] ")
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (sh *shell) requireLogin() bool {
	if sh.manager.State().Authenticated() {
		return true
	}
	sh.printf("Not logged in. Use: login <email>\n")
	return false
}

// resolve finds the draft named by a 1-based position in the last listing or
// by id. With pendingOnly, ids of drafts that are no longer pending are refused.
func (sh *shell) resolve(args []string, pendingOnly bool) (models.PendingUpdate, bool) {
	if !sh.requireLogin() {
		return models.PendingUpdate{}, false
	}
	if len(args) != 1 {
		sh.printf("Expected one draft number or id.\n")
		return models.PendingUpdate{}, false
	}

	view := sh.store.PendingView()
	if n, err := strconv.Atoi(args[0]); err == nil {
		if n >= 1 && n <= len(view) {
			return view[n-1], true
		}
		sh.printf("No draft %d. Run \"list\" to see pending drafts.\n", n)
		return models.PendingUpdate{}, false
	}

	candidates := view
	if !pendingOnly {
		candidates = sh.store.Items()
	}
	for _, item := range candidates {
		if item.ID == args[0] {
			return item, true
		}
	}
	if pendingOnly {
		for _, item := range sh.store.Items() {
			if item.ID == args[0] {
				sh.printf("Draft %s is %s, only pending drafts can be changed.\n", item.ID, item.RawStatus)
				return models.PendingUpdate{}, false
			}
		}
	}
	sh.printf("No draft with id %s.\n", args[0])
	return models.PendingUpdate{}, false
}

func (sh *shell) printStatus() {
	state := sh.manager.State()
	if !state.Authenticated() {
		sh.printf("Not logged in.\n")
		return
	}
	sh.printf("Logged in as %s (tenant %s).\n", state.Identity.Email, state.Identity.TenantID)
}

func (sh *shell) printList() {
	view := sh.store.PendingView()
	if len(view) == 0 {
		sh.printf("No pending drafts.\n")
		return
	}
	for i, item := range view {
		sh.printf("%2d. %-24s %s  (%s)\n", i+1, clientName(item), item.Subject, formatTime(item.CreatedAt))
	}
}

func (sh *shell) printDraft(item models.PendingUpdate) {
	sh.printf("ID:      %s\n", item.ID)
	sh.printf("Client:  %s", clientName(item))
	if item.ClientEmail != nil {
		sh.printf(" <%s>", *item.ClientEmail)
	}
	sh.printf("\nStatus:  %s\n", item.RawStatus)
	sh.printf("Created: %s\n", formatTime(item.CreatedAt))
	sh.printf("Subject: %s\n", item.Subject)
	if item.ChangeSummary != nil {
		sh.printf("Changes: %s\n", *item.ChangeSummary)
	}
	sh.printf("\n%s\n", item.EditableBody())
}

func (sh *shell) prompt(prompt string) (string, error) {
	if prompt != "" {
		sh.printf("%s", prompt)
	}
	if !sh.in.Scan() {
		if err := sh.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(sh.in.Text(), "\r"), nil
}

func (sh *shell) printf(format string, args ...any) {
	sh.outMu.Lock()
	defer sh.outMu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

func clientName(item models.PendingUpdate) string {
	if item.ClientDisplayName != nil && *item.ClientDisplayName != "" {
		return *item.ClientDisplayName
	}
	return "(unknown client)"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
