// cmd/libctl/commands.go
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"libracore/internal/catalog"
	"libracore/internal/circulation"
	"libracore/internal/membership"
)

func (a *app) resourceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "resource", Short: "Manage catalog resources"}

	var (
		id, kind, title, year string
		attrs                 map[string]string
		copies                []int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a resource with one copy per --copies entry",
		Args:  cobra.NoArgs,
		RunE: a.runLocal(true, func(ctx context.Context, _ []string) error {
			view, err := a.svc.AddResource(ctx, catalog.Entry{
				ID: id, Kind: catalog.Kind(kind), Title: title, Year: year, Attributes: attrs,
			}, copies...)
			if err != nil {
				return err
			}
			a.printf("added %s %q (%s) with %d copies\n", view.Entry.ID, view.Entry.Title, view.Entry.Kind, len(view.Copies))
			return nil
		}),
	}
	add.Flags().StringVar(&id, "id", "", "resource id (generated when empty)")
	add.Flags().StringVar(&kind, "kind", string(catalog.KindBook), "book, dvd, laptop or videogame")
	add.Flags().StringVar(&title, "title", "", "title")
	add.Flags().StringVar(&year, "year", "", "year of release")
	add.Flags().StringToStringVar(&attrs, "attr", nil, "kind-specific attributes, e.g. author=Herbert")
	add.Flags().IntSliceVar(&copies, "copies", nil, "loan duration in days for each copy")
	_ = add.MarkFlagRequired("title")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every resource",
		Args:  cobra.NoArgs,
		RunE: a.run(false, func(ctx context.Context, _ []string) error {
			views, err := a.api.ListResources(ctx)
			if err != nil {
				return err
			}
			a.printResources(views, "No resources in library.")
			return nil
		}),
	}

	var (
		kinds []string
		limit int
	)
	search := &cobra.Command{
		Use:   "search [TEXT]",
		Short: "Find resources whose title, year or attributes contain TEXT",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(false, func(ctx context.Context, args []string) error {
			q := catalog.Query{Limit: limit}
			if len(args) == 1 {
				q.Text = args[0]
			}
			for _, raw := range kinds {
				kind, err := catalog.ParseKind(raw)
				if err != nil {
					return err
				}
				q.Kinds = append(q.Kinds, kind)
			}
			views, err := a.api.SearchResources(ctx, q)
			if err != nil {
				return err
			}
			a.printResources(views, "No search results.")
			return nil
		}),
	}
	search.Flags().StringSliceVar(&kinds, "kind", nil, "only these kinds")
	search.Flags().IntVar(&limit, "limit", 0, "at most this many results")

	remove := &cobra.Command{
		Use:   "remove RESOURCE",
		Short: "Withdraw a resource that is not lent, held or requested",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			if err := a.api.RemoveResource(ctx, args[0]); err != nil {
				return err
			}
			a.printf("removed %s\n", args[0])
			return nil
		}),
	}

	show := &cobra.Command{
		Use:   "show RESOURCE",
		Short: "Show a resource and the state of its copies",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(false, func(ctx context.Context, args []string) error {
			v, err := a.api.GetResource(ctx, args[0])
			if err != nil {
				return err
			}
			a.printf("%s %q (%s, %s)\n", v.Entry.ID, v.Entry.Title, v.Entry.Kind, v.Entry.Year)
			for k, val := range v.Entry.Attributes {
				a.printf("  %s: %s\n", k, val)
			}
			for _, c := range v.Copies {
				line := fmt.Sprintf("  copy %s  %-16s %2d days", c.ID, c.State, c.LoanDuration)
				switch {
				case c.Borrower != "":
					line += fmt.Sprintf("  borrower %s, due %s", c.Borrower, c.DueDate.Format("02-01-2006"))
				case c.ReservedFor != "":
					line += "  held for " + c.ReservedFor
				}
				a.printf("%s\n", line)
			}
			if len(v.Queue) > 0 {
				a.printf("  queue: %s\n", strings.Join(v.Queue, ", "))
			}
			return nil
		}),
	}

	events := &cobra.Command{
		Use:   "events RESOURCE",
		Short: "Show the circulation journal of a resource (needs --server)",
		Args:  cobra.ExactArgs(1),
		RunE: a.runRemote(func(ctx context.Context, args []string) error {
			history, err := a.api.ResourceHistory(ctx, args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				a.printf("no events\n")
			}
			for i, e := range history {
				a.printf("%3d  %s\n", i+1, e.Type)
			}
			return nil
		}),
	}

	cmd.AddCommand(add, list, show, search, remove, events)
	return cmd
}

func (a *app) printResources(views []circulation.ResourceView, empty string) {
	if len(views) == 0 {
		a.printf("%s\n", empty)
		return
	}
	a.printf("%-38s %-10s %-30s %-7s %-9s %s\n", "ID", "Kind", "Title", "Copies", "Available", "Queue")
	a.printf("%s\n", strings.Repeat("-", 110))
	for _, v := range views {
		a.printf("%-38s %-10s %-30s %-7d %-9t %s\n",
			v.Entry.ID, v.Entry.Kind, v.Entry.Title, len(v.Copies), v.Available, strings.Join(v.Queue, ", "))
	}
}

func (a *app) copyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "copy", Short: "Add or remove copies of a resource"}

	var days int
	add := &cobra.Command{
		Use:   "add RESOURCE",
		Short: "Add a copy; it is held at once if someone is waiting",
		Args:  cobra.ExactArgs(1),
		RunE: a.runLocal(true, func(ctx context.Context, args []string) error {
			ref, err := a.svc.AddCopy(ctx, args[0], days)
			if err != nil {
				return err
			}
			a.printf("added copy %s\n", ref)
			return nil
		}),
	}
	add.Flags().IntVar(&days, "days", 14, "loan duration in days")

	remove := &cobra.Command{
		Use:   "remove COPY",
		Short: "Retire an available copy",
		Args:  cobra.ExactArgs(1),
		RunE: a.runLocal(true, func(ctx context.Context, args []string) error {
			ref, err := circulation.ParseCopyRef(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.RemoveCopy(ctx, ref); err != nil {
				return err
			}
			a.printf("removed copy %s\n", ref)
			return nil
		}),
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func (a *app) loanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loan USER COPY",
		Short: "Lend a copy to a member",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			ref, err := circulation.ParseCopyRef(args[1])
			if err != nil {
				return err
			}
			loan, err := a.api.LoanResource(ctx, args[0], ref)
			if err != nil {
				return err
			}
			a.printf("%s borrowed %s on %s\n", loan.BorrowerID, ref, loan.DateBorrowed.Format("02-01-2006 15:04"))
			return nil
		}),
	}
}

func (a *app) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return USER COPY",
		Short: "Take a copy back, charging any overdue fine",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			ref, err := circulation.ParseCopyRef(args[1])
			if err != nil {
				return err
			}
			receipt, err := a.api.ReturnResource(ctx, args[0], ref)
			if err != nil {
				return err
			}
			a.printReturn(receipt)
			return nil
		}),
	}
}

func (a *app) printReturn(receipt circulation.ReturnReceipt) {
	a.printf("returned %s\n", receipt.Ref)
	if receipt.Fine > 0 {
		a.printf("fine: %d (%d days late)\n", receipt.Fine, receipt.DaysLate)
	}
	if r := receipt.Reservation; r != nil {
		a.printf("now held for %s\n", r.User)
	}
}

func (a *app) requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request USER RESOURCE",
		Short: "Join the queue for a resource",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			receipt, err := a.api.RequestResource(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			a.printRequest(receipt)
			return nil
		}),
	}
}

func (a *app) printRequest(receipt circulation.RequestReceipt) {
	a.printf("queued for %s at position %d\n", receipt.ResourceID, receipt.QueuePosition)
	switch {
	case receipt.Reservation != nil:
		a.printf("copy %s-%s is held for you\n", receipt.ResourceID, receipt.Reservation.CopyID)
	case receipt.ReturnRequest != nil:
		a.printf("expected back by %s\n", receipt.ReturnRequest.DueDate.Format("02-01-2006"))
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel USER RESOURCE",
		Short: "Leave the queue for a resource and release any held copy",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			if err := a.api.CancelRequest(ctx, args[0], args[1]); err != nil {
				return err
			}
			a.printf("request for %s cancelled\n", args[1])
			return nil
		}),
	}
}

func (a *app) overdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue [USER]",
		Short: "List overdue copies, for one member or everyone",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(false, func(ctx context.Context, args []string) error {
			var (
				refs []circulation.CopyRef
				err  error
			)
			if len(args) == 1 {
				refs, err = a.api.CheckForOverdue(ctx, args[0])
			} else {
				refs, err = a.api.FindAllOverdue(ctx)
			}
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				a.printf("nothing overdue\n")
				return nil
			}
			for _, ref := range refs {
				a.printf("%s\n", ref)
			}
			return nil
		}),
	}
}

func (a *app) memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage members"}

	var (
		reg      membership.Registration
		password string
	)
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a member; the password is prompted for unless --password is set",
		Args:  cobra.ExactArgs(1),
		RunE: a.runLocal(true, func(ctx context.Context, args []string) error {
			reg.Username = args[0]
			reg.Password = password
			if reg.Password == "" {
				pw, err := a.readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				reg.Password = pw
			}
			m, err := a.members.RegisterMember(ctx, reg)
			if err != nil {
				return err
			}
			a.printf("added member %s (%s)\n", m.Username, m.FullName())
			return nil
		}),
	}
	add.Flags().StringVar(&reg.FirstName, "first", "", "first name")
	add.Flags().StringVar(&reg.LastName, "last", "", "last name")
	add.Flags().StringVar(&reg.Email, "email", "", "email address for return notices")
	add.Flags().BoolVar(&reg.Librarian, "librarian", false, "grant librarian rights")
	add.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = add.MarkFlagRequired("email")

	show := &cobra.Command{
		Use:   "show USERNAME",
		Short: "Show a member's loans, holds and balance",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(false, func(ctx context.Context, args []string) error {
			m, err := a.api.GetMember(ctx, args[0])
			if err != nil {
				return err
			}
			a.printMember(m)
			return nil
		}),
	}

	cmd.AddCommand(add, show)
	return cmd
}

func (a *app) printMember(m membership.Member) {
	a.printf("%s (%s) <%s>\n", m.Username, m.FullName(), m.Email)
	a.printf("  balance:   %d\n", m.Balance)
	a.printf("  borrowed:  %s\n", strings.Join(m.Borrowed, ", "))
	a.printf("  reserved:  %s\n", strings.Join(m.Reserved, ", "))
	a.printf("  requested: %s\n", strings.Join(m.Requested, ", "))
}

func (a *app) payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay USER AMOUNT",
		Short: "Pay off part or all of a member's balance",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(true, func(ctx context.Context, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[1], err)
			}
			m, err := a.api.PayFine(ctx, args[0], amount)
			if err != nil {
				return err
			}
			a.printf("paid %d, balance now %d\n", amount, m.Balance)
			return nil
		}),
	}
}
