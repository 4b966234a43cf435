// cmd/libctl/main.go

// Command libctl runs circulation operations against a local SQLite library.
// Each invocation loads the latest snapshot, performs one operation and
// saves the result. With --server the circulation commands go to a running
// circulation service instead.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"libracore/internal/catalog"
	"libracore/internal/circulation"
	"libracore/internal/clients"
	"libracore/internal/membership"
	"libracore/internal/notify"
	"libracore/internal/store"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// circulationAPI is the part of the circulation service that libctl can
// reach both in process and over HTTP.
type circulationAPI interface {
	GetResource(ctx context.Context, id string) (circulation.ResourceView, error)
	ListResources(ctx context.Context) ([]circulation.ResourceView, error)
	SearchResources(ctx context.Context, q catalog.Query) ([]circulation.ResourceView, error)
	RemoveResource(ctx context.Context, id string) error
	ResourceHistory(ctx context.Context, id string) ([]circulation.Event, error)
	LoanResource(ctx context.Context, user string, ref circulation.CopyRef) (circulation.Loan, error)
	ReturnResource(ctx context.Context, user string, ref circulation.CopyRef) (circulation.ReturnReceipt, error)
	RequestResource(ctx context.Context, user, resourceID string) (circulation.RequestReceipt, error)
	CancelRequest(ctx context.Context, user, resourceID string) error
	CheckForOverdue(ctx context.Context, user string) ([]circulation.CopyRef, error)
	FindAllOverdue(ctx context.Context) ([]circulation.CopyRef, error)
	PayFine(ctx context.Context, user string, amount int) (membership.Member, error)
	GetMember(ctx context.Context, username string) (membership.Member, error)
}

var (
	_ circulationAPI = localAPI{}
	_ circulationAPI = (*clients.CirculationClient)(nil)
)

// localAPI serves circulationAPI from the in-process services.
type localAPI struct {
	circulation.Service
	members membership.Service
}

func (l localAPI) GetMember(ctx context.Context, username string) (membership.Member, error) {
	return l.members.GetMember(ctx, username)
}

// app is the state shared by every subcommand for one invocation.
type app struct {
	dbPath  string
	server  string
	verbose bool

	in     io.Reader
	out    io.Writer
	reader *bufio.Reader

	logger  *slog.Logger
	store   *store.SQLite
	members membership.Service
	svc     circulation.Service
	api     circulationAPI
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:           "libctl",
		Short:         "Manage library resources, loans and members",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&a.dbPath, "db", envOr("SQLITE_PATH", "data/library.db"), "path to the SQLite library file")
	root.PersistentFlags().StringVar(&a.server, "server", os.Getenv("LIBRACORE_SERVER"), "base URL of a circulation service, e.g. http://localhost:8082")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every operation")

	root.AddCommand(
		a.resourceCmd(),
		a.copyCmd(),
		a.loanCmd(),
		a.returnCmd(),
		a.requestCmd(),
		a.cancelCmd(),
		a.overdueCmd(),
		a.memberCmd(),
		a.payCmd(),
		a.loginCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// open loads the saved library into fresh in-process services.
func (a *app) open(ctx context.Context) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelInfo
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.OpenSQLite(ctx, a.dbPath, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	a.members = membership.NewService(a.logger, nil)
	a.svc = circulation.NewService(a.members,
		circulation.WithNotifier(printNotifier{out: a.out}),
		circulation.WithLogger(a.logger),
	)
	a.api = localAPI{Service: a.svc, members: a.members}

	lib, err := st.Load(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		st.Close()
		return err
	}
	if err := a.svc.Restore(ctx, lib); err != nil {
		st.Close()
		return err
	}
	return nil
}

func (a *app) save(ctx context.Context) error {
	lib, err := a.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	return a.store.Save(ctx, lib)
}

// run wraps a command body with open, and with save when it changes state.
// When --server is set the body runs against the remote service and
// nothing is opened or saved locally.
func (a *app) run(mutates bool, fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if a.server != "" {
			a.api = clients.NewCirculationClient(strings.TrimRight(a.server, "/"), nil)
			return fn(ctx, args)
		}
		if err := a.open(ctx); err != nil {
			return err
		}
		defer a.store.Close()

		if err := fn(ctx, args); err != nil {
			return err
		}
		if mutates {
			return a.save(ctx)
		}
		return nil
	}
}

// runLocal is run for commands that only make sense on a local library.
func (a *app) runLocal(mutates bool, fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	inner := a.run(mutates, fn)
	return func(cmd *cobra.Command, args []string) error {
		if a.server != "" {
			return fmt.Errorf("%s needs a local library, drop --server", cmd.CommandPath())
		}
		return inner(cmd, args)
	}
}

// runRemote is run for commands served only by a circulation service.
func (a *app) runRemote(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	inner := a.run(false, fn)
	return func(cmd *cobra.Command, args []string) error {
		if a.server == "" {
			return fmt.Errorf("%s needs a circulation service, pass --server", cmd.CommandPath())
		}
		return inner(cmd, args)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// readPassword reads a password with echo off when stdin is a terminal,
// otherwise it reads one line.
func (a *app) readPassword(prompt string) (string, error) {
	a.printf("%s", prompt)
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		a.printf("\n")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := a.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}

// readLine returns the next trimmed input line. Input is buffered once so
// prompts and the login shell share it.
func (a *app) readLine() (string, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}
	line, err := a.reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

// printNotifier shows return notices on the terminal.
type printNotifier struct {
	out io.Writer
}

func (p printNotifier) NotifyReturnDue(ctx context.Context, n notify.ReturnDue) error {
	fmt.Fprintf(p.out, "notice: %s <%s> asked to return %q (%s) by %s\n",
		n.Name, n.Recipient, n.Title, n.CopyRef, n.DueDate.Format("02-01-2006"))
	return nil
}
