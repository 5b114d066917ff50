package mirror

import (
	"context"
	"sync"
	"time"

	"wuyrush.io/plakat/common/logging"
	"wuyrush.io/plakat/common/retry"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	st "wuyrush.io/plakat/stores"
)

// Repository is the set of pin operations a Session drives
type Repository interface {
	List(ctx context.Context) ([]md.Pin, *pe.PinErr)
	Create(ctx context.Context, in md.PinInput) (*md.Pin, *pe.PinErr)
	Remove(ctx context.Context, id string) (bool, *pe.PinErr)
}

// ChangeSource streams change notifications of the pins table
type ChangeSource interface {
	Subscribe(ctx context.Context) (st.Subscription, *pe.PinErr)
}

// Session wires a State to a Repository and a ChangeSource: it loads the collection, keeps it live with
// change notifications and applies the user's own creates and deletes.
type Session struct {
	State  *State
	Repo   Repository
	Source ChangeSource
	// Shared marks a collection served to many users. A failed delete then reloads the collection instead
	// of keeping the local removal, and an ended subscription is reopened followed by a reload.
	Shared bool
	// ResubscribeDelay is the first wait before reopening an ended subscription; it doubles up to a minute
	ResubscribeDelay time.Duration

	cancel context.CancelFunc
	mu     sync.Mutex
	sub    st.Subscription
	wg     sync.WaitGroup
}

func NewSession(state *State, repo Repository, src ChangeSource) *Session {
	return &Session{State: state, Repo: repo, Source: src, ResubscribeDelay: time.Second}
}

// Open starts the State, subscribes to changes and performs the initial bulk load. Changes that happen
// while loading are applied after the load; reconciliation makes them converge.
func (s *Session) Open(ctx context.Context) *pe.PinErr {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.State.Run(ctx)
	}()
	sub, err := s.Source.Subscribe(ctx)
	if err != nil {
		s.Close()
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	if err := s.Reload(ctx); err != nil {
		s.Close()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forward(ctx, sub)
	}()
	return nil
}

func (s *Session) forward(ctx context.Context, sub st.Subscription) {
	clog := logging.WithFuncName()
	for {
		s.drain(ctx, sub)
		if ctx.Err() != nil {
			return
		}
		if !s.Shared {
			clog.Warn("pin change subscription ended; the collection is no longer live")
			return
		}
		clog.Warn("pin change subscription ended; reopening")
		if sub = s.resubscribe(ctx); sub == nil {
			return
		}
		if err := s.Reload(ctx); err != nil {
			clog.WithField("trace", err.Trace()).Error("reload after resubscribing failed")
		}
	}
}

// drain applies changes of sub until it ends or ctx is done
func (s *Session) drain(ctx context.Context, sub st.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.Changes():
			if !ok {
				return
			}
			s.State.Apply(c)
		}
	}
}

// resubscribe reopens the change subscription with backoff. It returns nil once ctx is done.
func (s *Session) resubscribe(ctx context.Context) st.Subscription {
	delay := s.ResubscribeDelay
	if delay <= 0 {
		delay = time.Second
	}
	var sub st.Subscription
	err := retry.Retry(ctx, func() error {
		var err *pe.PinErr
		if sub, err = s.Source.Subscribe(ctx); err != nil {
			logging.WithFuncName().WithField("trace", err.Trace()).Warn("error reopening pin change subscription")
			return err
		}
		return nil
	},
		retry.WithRetryOn(func(error) bool { return ctx.Err() == nil }),
		retry.WithBaseDelay(delay),
		retry.WithExp(2),
		retry.WithJitter(0.1),
		retry.WithMaxBackoff(time.Minute),
	)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		sub.Close()
		return nil
	}
	s.sub = sub
	return sub
}

// Reload replaces the collection with a fresh bulk load
func (s *Session) Reload(ctx context.Context) *pe.PinErr {
	ps, err := s.Repo.List(ctx)
	if err != nil {
		return err
	}
	s.State.Load(ps)
	return nil
}

// Create creates a pin and adds it to the collection once the repository acknowledged it. The change
// notification echoing the same insert later replaces it with an identical pin.
func (s *Session) Create(ctx context.Context, in md.PinInput) (*md.Pin, *pe.PinErr) {
	p, err := s.Repo.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.State.Upsert(*p)
	return p, nil
}

// Delete removes the pin from the collection right away, then deletes it in the repository. A failed
// delete is reported but the pin stays removed locally until the next reload; a Shared session reloads
// at once.
func (s *Session) Delete(ctx context.Context, id string) (bool, *pe.PinErr) {
	s.State.Remove(id)
	ok, err := s.Repo.Remove(ctx, id)
	if err != nil {
		clog := logging.WithFuncName().WithField("pinID", id)
		clog.WithError(err).Warn("delete failed after local removal")
		if s.Shared {
			if rerr := s.Reload(context.WithoutCancel(ctx)); rerr != nil {
				clog.WithField("trace", rerr.Trace()).Error("reload after failed delete failed")
			}
		}
		return false, err
	}
	return ok, nil
}

// Pins returns the current collection, newest first
func (s *Session) Pins() []md.Pin {
	return s.State.Snapshot()
}

// Close unsubscribes and stops the State
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.sub != nil {
		s.sub.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
