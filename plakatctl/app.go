package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"wuyrush.io/plakat/client"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	"wuyrush.io/plakat/gate"
	"wuyrush.io/plakat/mirror"
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
	"wuyrush.io/plakat/versionwatch"
)

// readPassword is a seam for reading the passphrase without echo
var readPassword = term.ReadPassword

var errUsage = errors.New("invalid usage")

type app struct {
	out     io.Writer
	storage gate.Storage
	now     func() time.Time
}

func newApp(out io.Writer) *app {
	a := &app{out: out, now: time.Now}
	if fs, err := gate.DefaultFileStorage(); err == nil {
		a.storage = fs
	} else {
		logging.WithFuncName().WithError(err).Warn("no place to remember the passphrase")
	}
	return a
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return a.list(ctx)
	case "add":
		return a.add(ctx, rest)
	case "rm":
		return a.rm(ctx, rest)
	case "unlock":
		return a.unlock(ctx)
	case "watch":
		return a.watch(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// client returns a client carrying the passphrase digest from the environment or the remembered one
func (a *app) client() *client.Client {
	digest := ""
	if p := viper.GetString(cst.EnvPassphrase); p != "" {
		digest = gate.Digest(p)
	} else if a.storage != nil {
		if d, err := a.storage.Load(); err == nil {
			digest = d
		}
	}
	return client.New(viper.GetString(cst.EnvServerURL), digest)
}

func (a *app) list(ctx context.Context) error {
	ps, err := a.client().List(ctx)
	if err != nil {
		return hint(err)
	}
	a.printPins(ps)
	return nil
}

func (a *app) printPins(ps []md.Pin) {
	if len(ps) == 0 {
		fmt.Fprintln(a.out, "no pins")
		return
	}
	now := a.now()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tREMOVE BY\tLOCATION\t")
	for _, p := range ps {
		expires := p.ExpiresAt
		if expires == "" {
			expires = "-"
		} else if p.Expired(now) {
			expires += " (overdue)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f, %.5f\t\n", p.ID, p.Title, expires, p.Latitude, p.Longitude)
	}
	tw.Flush()
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	title := fs.String("title", "", "title of the pin")
	desc := fs.String("description", "", "optional description")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	expires := fs.String("expires", "", "removal date, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	in := md.PinInput{Title: *title, Latitude: *lat, Longitude: *lon, ExpiresAt: *expires}
	if *desc != "" {
		in.Description = desc
	}
	p, err := a.client().Create(ctx, in)
	if err != nil {
		return hint(err)
	}
	fmt.Fprintf(a.out, "created %s\n", p.ID)
	return nil
}

func (a *app) rm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("rm takes exactly one pin id: %w", errUsage)
	}
	ok, err := a.client().Remove(ctx, args[0])
	if err != nil {
		return hint(err)
	}
	if !ok {
		return fmt.Errorf("no pin with id %s", args[0])
	}
	fmt.Fprintf(a.out, "deleted %s\n", args[0])
	return nil
}

func (a *app) unlock(ctx context.Context) error {
	passphrase := viper.GetString(cst.EnvPassphrase)
	if passphrase == "" {
		fmt.Fprint(a.out, "Passphrase: ")
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(a.out)
		if err != nil {
			return fmt.Errorf("error reading passphrase: %w", err)
		}
		passphrase = strings.TrimSpace(string(b))
	}
	digest := gate.Digest(passphrase)
	ok, err := a.client().CheckAccess(ctx, digest)
	if err != nil {
		return err
	}
	if !ok {
		return pe.ErrUnauthorized(gate.ErrMsgWrongPassphrase)
	}
	if a.storage != nil {
		if err := a.storage.Store(digest); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, "unlocked")
	return nil
}

// watch prints the pins whenever they change until ctx is done. A new server version triggers a fresh
// load after the reload delay.
func (a *app) watch(ctx context.Context) error {
	c := a.client()
	state := mirror.New(pins.Normalizer{RequireExpiry: viper.GetBool(cst.EnvRequireExpiry)})
	state.OnChange(func(ps []md.Pin) {
		fmt.Fprintf(a.out, "--- %s\n", a.now().Format(time.RFC3339))
		a.printPins(ps)
	})
	sess := mirror.NewSession(state, c, c)
	if err := sess.Open(ctx); err != nil {
		return hint(err)
	}
	defer sess.Close()

	w := versionwatch.New(c.VersionFetcher())
	w.OnPrompt = func(v string) {
		fmt.Fprintf(a.out, "server updated to %s; reloading in %s\n", v, w.ReloadDelay)
	}
	w.OnReload = func() {
		if err := sess.Reload(ctx); err != nil {
			logging.WithFuncName().WithField("trace", err.Trace()).Warn("reload failed")
		}
	}
	go w.Run(ctx)

	select {
	case <-ctx.Done():
	case <-state.Done():
	}
	return nil
}

// hint adds what to do about a locked server
func hint(err *pe.PinErr) error {
	if err.Code == pe.ErrCodeUnauthorized {
		return fmt.Errorf("%s; run `plakatctl unlock` first", err.Error())
	}
	return err
}
