package dashboard

import (
	"context"
	"fmt"

	"fleet-dashboard/internal/api"
)

type sessionState struct {
	authenticated bool
	user          *api.User

	// gen changes on every session start and end. Every read is tagged with
	// the gen it was issued under.
	gen uint64
	// epoch changes on every login/logout/check that changed the session;
	// a slow login whose epoch was overtaken is not applied.
	epoch uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// CheckSession asks the backend whether the stored cookie is still a live
// session. Any failure counts as unauthenticated.
func (e *Engine) CheckSession(ctx context.Context) api.Session {
	var epoch uint64
	if err := e.do(ctx, func() { epoch = e.session.epoch }); err != nil {
		return api.Session{}
	}

	s, err := e.backend.CheckSession(ctx)
	if err != nil {
		e.logger.Warn("session check failed", "err", err)
		s = api.Session{}
	}

	var result api.Session
	_ = e.do(ctx, func() {
		if e.session.epoch != epoch {
			result = e.sessionView()
			return
		}
		if !s.Authenticated || s.User == nil {
			if e.session.authenticated {
				e.session.epoch++
				e.endSession()
			}
		} else {
			e.session.epoch++
			e.beginSession(*s.User)
		}
		result = e.sessionView()
	})
	return result
}

func (e *Engine) Login(ctx context.Context, creds api.Credentials) (api.User, error) {
	var epoch uint64
	if err := e.do(ctx, func() { epoch = e.session.epoch }); err != nil {
		return api.User{}, err
	}

	u, err := e.backend.Login(ctx, creds)
	if err != nil {
		e.logger.Warn("login failed", "username", creds.Username, "err", err)
		return api.User{}, fmt.Errorf("login: %w", err)
	}

	applied := false
	if err := e.do(ctx, func() {
		if e.session.epoch != epoch {
			return
		}
		e.session.epoch++
		e.beginSession(u)
		applied = true
	}); err != nil {
		return api.User{}, err
	}
	if !applied {
		return api.User{}, ErrSuperseded
	}
	e.logger.Info("logged in", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// Logout tears down local state before telling the backend: when it returns
// no timer is pending and every collection is empty, even if the backend
// call fails.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.do(ctx, func() {
		e.session.epoch++
		e.endSession()
	}); err != nil {
		return err
	}
	if err := e.backend.Logout(ctx); err != nil {
		e.logger.Warn("backend logout failed", "err", err)
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (e *Engine) sessionView() api.Session {
	if !e.session.authenticated {
		return api.Session{}
	}
	u := *e.session.user
	return api.Session{Authenticated: true, User: &u}
}

func (e *Engine) beginSession(u api.User) {
	if e.session.authenticated && e.session.user.ID == u.ID {
		// Same account re-confirmed; keep the pollers running.
		e.session.user = &u
		// A lesser role loses pin mode; an in-flight write resets it when it lands.
		if !e.canPin() && !e.pin.submitting {
			e.pin = pinState{}
		}
		e.emit()
		return
	}
	e.teardown()

	e.session.gen++
	e.session.authenticated = true
	e.session.user = &u
	e.session.ctx, e.session.cancel = context.WithCancel(context.Background())

	e.startFleet()
	e.loadPlaces()
	e.emit()
}

func (e *Engine) endSession() {
	e.teardown()
	e.session.gen++
	e.emit()
}

// teardown stops every timer, cancels in-flight reads and clears all
// session-scoped state.
func (e *Engine) teardown() {
	e.sched.cancelAll()
	if e.detail.cancel != nil {
		e.detail.cancel()
	}
	if e.session.cancel != nil {
		e.session.cancel()
	}
	if e.session.user != nil {
		userID := e.session.user.ID
		e.mirrorJob("clear", func(ctx context.Context) error {
			return e.mirror.ClearFleet(ctx, userID)
		})
	}

	e.session = sessionState{gen: e.session.gen, epoch: e.session.epoch}
	e.fleet = fleetState{}
	e.detail = detailState{selection: Selection{Window: DefaultWindow}}
	e.places = placesState{}
	e.pin = pinState{}
}

func (e *Engine) requireSession() error {
	if !e.session.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}
