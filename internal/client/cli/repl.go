package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/client/client"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it.
type execIface interface {
	isLoggedIn() bool
	isAdmin() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error

	List(ctx context.Context) error
	Add(ctx context.Context) error
	Rotate(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error

	Request(ctx context.Context, args []string) error
	IssueOTP(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Requests(ctx context.Context) error

	Pending(ctx context.Context) error
	Verify(ctx context.Context, args []string) error
	Approve(ctx context.Context, args []string) error
	Reject(ctx context.Context, args []string) error
	Stats(ctx context.Context) error
	Snapshot(ctx context.Context, args []string) error
}

const (
	helpAnonymous = "Available commands: register, login, exit"
	helpUser      = "Available commands: (l)ist, add, edit <id>, rotate <id>, delete <id>, show <id>, " +
		"request <credential-id> [reason], otp <request-id>, status <request-id>, requests, whoami, logout, exit"
	helpAdmin = helpUser + "\nAdmin commands: pending, verify <request-id> <otp>, " +
		"approve <request-id> [otp] [window-seconds], reject <request-id> [notes], stats, snapshot [download]"
)

// runREPL reads commands from scanner until EOF, "exit" or "quit" and
// dispatches them to a. The prompt shows statusFn().
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("gv %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}

		if cmd != "help" && cmd != "register" && cmd != "login" && !a.isLoggedIn() {
			printlnFn("Please login first")
			continue
		}

		var err error
		switch cmd {
		case "help":
			switch {
			case a.isLoggedIn() && a.isAdmin():
				printlnFn(helpAdmin)
			case a.isLoggedIn():
				printlnFn(helpUser)
			default:
				printlnFn(helpAnonymous)
			}

		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "whoami":
			err = a.Whoami(ctx)

		case "l", "list":
			err = a.List(ctx)
		case "add":
			err = a.Add(ctx)
		case "rotate":
			err = a.Rotate(ctx, args)
		case "edit":
			err = a.Edit(ctx, args)
		case "delete":
			err = a.Delete(ctx, args)
		case "show":
			err = a.Show(ctx, args)

		case "request":
			err = a.Request(ctx, args)
		case "otp":
			err = a.IssueOTP(ctx, args)
		case "status":
			err = a.Status(ctx, args)
		case "requests":
			err = a.Requests(ctx)

		case "pending":
			err = a.Pending(ctx)
		case "verify":
			err = a.Verify(ctx, args)
		case "approve":
			err = a.Approve(ctx, args)
		case "reject":
			err = a.Reject(ctx, args)
		case "stats":
			err = a.Stats(ctx)
		case "snapshot":
			err = a.Snapshot(ctx, args)

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", describe(err))
		}
	}
}

var errUsage = errors.New("usage")

func describe(err error) string {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return "session expired, please login again"
	case errors.Is(err, client.ErrForbidden):
		return "you are not allowed to do that"
	case errors.Is(err, client.ErrUnavailable):
		return "server unavailable"
	default:
		return err.Error()
	}
}
