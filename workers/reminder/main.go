// Package reminder vends a long-running worker mailing digests of pins overdue for removal.
package main

import (
	"context"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	"wuyrush.io/plakat/email"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
	st "wuyrush.io/plakat/stores"
)

func init() {
	viper.SetDefault(cst.EnvReminderSweepFreq, time.Hour)
	viper.SetDefault(cst.EnvReminderRenotifyAfter, 24*time.Hour)
	viper.SetDefault(cst.EnvReminderCacheSize, 10000)
}

func main() {
	if err := runReminder(); err != nil {
		log.WithError(err).Fatal("error running reminder")
	}
}

type lister interface {
	List(ctx context.Context) ([]md.Pin, *pe.PinErr)
}

type reminder struct {
	Pins   lister
	Mailer email.Sender
	From   mail.Address
	To     []mail.Address
	// reported holds the ids of pins already mailed about, each until RenotifyAfter has passed
	reported      gcache.Cache
	RenotifyAfter time.Duration
	Now           func() time.Time
}

func runReminder() error {
	viper.AutomaticEnv()
	logging.SetupLog("PlakatReminder", viper.GetBool(cst.EnvVerbose))
	clog := logging.WithFuncName()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	from, err := mail.ParseAddress(viper.GetString(cst.EnvMailFrom))
	if err != nil {
		clog.WithError(err).Error("invalid sender address")
		return err
	}
	to, err := email.ParseAddressList(viper.GetString(cst.EnvMailTo))
	if err != nil {
		clog.WithError(err).Error("invalid recipient addresses")
		return err
	}
	gw, perr := st.NewGateway(ctx)
	if perr != nil {
		clog.WithField("trace", perr.Trace()).Error("error setting up pin gateway")
		return perr
	}
	defer gw.Close()

	r := &reminder{
		Pins: pins.New(gw),
		Mailer: email.NewMailer(
			viper.GetString(cst.EnvSMTPAddr),
			viper.GetString(cst.EnvSMTPUsername),
			viper.GetString(cst.EnvSMTPPasswd),
		),
		From:          *from,
		To:            to,
		reported:      gcache.New(viper.GetInt(cst.EnvReminderCacheSize)).LRU().Build(),
		RenotifyAfter: viper.GetDuration(cst.EnvReminderRenotifyAfter),
		Now:           time.Now,
	}
	// ensure the worker can be responsive to system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		clog.Info("got termination signal. Stopping")
		cancel()
	}()
	return r.Run(ctx, viper.GetDuration(cst.EnvReminderSweepFreq))
}

// Run sweeps right away and then every freq until ctx is done. Failed sweeps are logged and retried on
// the next tick.
func (r *reminder) Run(ctx context.Context, freq time.Duration) error {
	clog := logging.WithFuncName()
	if freq <= 0 {
		clog.WithField("sweepFrequency", freq).Error("got non-positive reminder sweep frequency")
		return pe.ErrBadInput("sweep frequency must be positive")
	}
	tkr := time.NewTicker(freq)
	defer tkr.Stop()
	for {
		if n, err := r.Sweep(ctx); err != nil {
			clog.WithField("trace", err.Trace()).Error("reminder sweep failed")
		} else {
			clog.WithField("reported", n).Debug("reminder sweep done")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tkr.C:
		}
	}
}

// Sweep mails one digest of the pins which are overdue and not reported recently. It returns how many pins
// the digest listed.
func (r *reminder) Sweep(ctx context.Context) (int, *pe.PinErr) {
	clog := logging.WithFuncName()
	ps, err := r.Pins.List(ctx)
	if err != nil {
		return 0, err
	}
	now := r.Now()
	due := []md.Pin{}
	for _, p := range ps {
		if !p.Expired(now) {
			continue
		}
		if _, err := r.reported.Get(p.ID); err == nil {
			continue
		} else if err != gcache.KeyNotFoundError {
			clog.WithError(err).WithField("pinID", p.ID).Warn("error reading reported cache")
		}
		due = append(due, p)
	}
	if len(due) == 0 {
		return 0, nil
	}
	if err := r.Mailer.Send(email.OverdueDigest(r.From, r.To, due, now)); err != nil {
		return 0, err
	}
	// best effort: a pin missing from the cache is reported again on the next sweep
	for _, p := range due {
		if err := r.reported.SetWithExpire(p.ID, struct{}{}, r.RenotifyAfter); err != nil {
			clog.WithError(err).WithField("pinID", p.ID).Error("error caching reported pin")
		}
	}
	return len(due), nil
}
