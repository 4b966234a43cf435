// cmd/libctl/login.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"libracore/internal/circulation"
)

const shellHelp = `Available commands:
  borrow COPY      borrow a copy, e.g. dune-0
  return COPY      return a copy
  request RESOURCE join the queue for a resource
  cancel RESOURCE  leave the queue
  overdue          list your overdue copies
  pay AMOUNT       pay towards your balance
  me               show your account
  exit`

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Sign in and act as a member in an interactive shell",
		Args:  cobra.ExactArgs(1),
		RunE: a.runLocal(false, func(ctx context.Context, args []string) error {
			if password == "" {
				pw, err := a.readPassword("Enter your password: ")
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = pw
			}
			m, err := a.members.Authenticate(ctx, args[0], password)
			if err != nil {
				return err
			}
			session, err := circulation.NewSession(a.svc, m.Username)
			if err != nil {
				return err
			}
			a.printf("Welcome, %s.\n%s\n", m.FullName(), shellHelp)
			return a.shell(ctx, session)
		}),
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

// shell reads commands until exit or end of input. State is saved after
// every command that succeeds in changing it.
func (a *app) shell(ctx context.Context, s *circulation.Session) error {
	for {
		a.printf("\n%s> ", s.Username())
		line, err := a.readLine()
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		verb, arg := fields[0], ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		changed, cerr := a.dispatch(ctx, s, verb, arg)
		if verb == "exit" || verb == "quit" {
			return nil
		}
		if cerr != nil {
			a.printf("Error: %v\n", cerr)
			continue
		}
		if changed {
			if err := a.save(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *app) dispatch(ctx context.Context, s *circulation.Session, verb, arg string) (bool, error) {
	switch verb {
	case "borrow":
		loan, err := s.Borrow(ctx, arg)
		if err != nil {
			return false, err
		}
		a.printf("borrowed %s on %s\n", arg, loan.DateBorrowed.Format("02-01-2006 15:04"))
		return true, nil
	case "return":
		receipt, err := s.Return(ctx, arg)
		if err != nil {
			return false, err
		}
		a.printReturn(receipt)
		return true, nil
	case "request":
		receipt, err := s.Request(ctx, arg)
		if err != nil {
			return false, err
		}
		a.printRequest(receipt)
		return true, nil
	case "cancel":
		if err := s.CancelRequest(ctx, arg); err != nil {
			return false, err
		}
		a.printf("request for %s cancelled\n", arg)
		return true, nil
	case "overdue":
		refs, err := s.Overdue(ctx)
		if err != nil {
			return false, err
		}
		if len(refs) == 0 {
			a.printf("nothing overdue\n")
		}
		for _, ref := range refs {
			a.printf("%s\n", ref)
		}
		return false, nil
	case "pay":
		amount, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("amount %q: %w", arg, err)
		}
		m, err := s.PayFine(ctx, amount)
		if err != nil {
			return false, err
		}
		a.printf("paid %d, balance now %d\n", amount, m.Balance)
		return true, nil
	case "me":
		m, err := a.api.GetMember(ctx, s.Username())
		if err != nil {
			return false, err
		}
		a.printMember(m)
		return false, nil
	case "help":
		a.printf("%s\n", shellHelp)
		return false, nil
	case "exit", "quit":
		a.printf("Goodbye!\n")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q, type help", verb)
	}
}
