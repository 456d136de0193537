package service

import (
	"context"
	"errors"
	"time"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
)

// Drawer tracks the single cash session. The persisted session is the source
// of truth; current mirrors it after every committed change.
type Drawer struct {
	repo    store.Repository
	current *domain.CashSession
}

func NewDrawer(repo store.Repository) *Drawer {
	return &Drawer{repo: repo}
}

// Recover reloads the most recent open session, if any.
func (d *Drawer) Recover(ctx context.Context) error {
	sess, err := d.repo.GetOpenSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			d.current = nil
			return nil
		}
		return err
	}
	d.current = sess
	return nil
}

func (d *Drawer) IsOpen() bool {
	return d.current != nil
}

func (d *Drawer) Status() domain.DrawerStatus {
	if d.current == nil {
		return domain.DrawerStatus{}
	}
	sess := *d.current
	return domain.DrawerStatus{Open: true, Session: &sess}
}

// Open starts a session. When another process already opened one in the
// shared store, that session is adopted and ErrAlreadyOpen is returned.
func (d *Drawer) Open(ctx context.Context, now time.Time) (domain.CashSession, error) {
	if d.current != nil {
		return domain.CashSession{}, ErrAlreadyOpen
	}
	sess, err := d.repo.CreateSession(ctx, domain.CashSession{OpenedAt: now})
	if err != nil {
		if errors.Is(err, store.ErrSessionOpen) {
			if rerr := d.Recover(ctx); rerr != nil {
				return domain.CashSession{}, rerr
			}
			return domain.CashSession{}, ErrAlreadyOpen
		}
		return domain.CashSession{}, err
	}
	d.current = sess
	return *sess, nil
}

// Close persists the final profit and clears the working session, so the next
// Open starts again from zero.
func (d *Drawer) Close(ctx context.Context, now time.Time) (domain.CashSession, error) {
	if err := d.sync(ctx); err != nil {
		return domain.CashSession{}, err
	}
	if d.current == nil {
		return domain.CashSession{}, ErrNotOpen
	}
	sess, err := d.repo.CloseSession(ctx, d.current.ID, now)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			d.current = nil
			return domain.CashSession{}, ErrNotOpen
		}
		return domain.CashSession{}, err
	}
	d.current = nil
	return *sess, nil
}

// RecordProfitDelta adds amount to the open session right away.
func (d *Drawer) RecordProfitDelta(ctx context.Context, amount int64) (domain.CashSession, error) {
	sess, err := d.recordDelta(ctx, d.repo, amount)
	if err != nil {
		return domain.CashSession{}, err
	}
	d.adopt(sess)
	return *sess, nil
}

// recordDelta writes through repo without touching current; the caller adopts
// the result once its transaction commits.
func (d *Drawer) recordDelta(ctx context.Context, repo store.Repository, amount int64) (*domain.CashSession, error) {
	if d.current == nil {
		return nil, ErrNotOpen
	}
	sess, err := repo.AddSessionProfit(ctx, d.current.ID, amount)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return nil, ErrNotOpen
		}
		return nil, err
	}
	return sess, nil
}

// sync reloads the persisted session when none is held, picking up a session
// opened by another process on the same store.
func (d *Drawer) sync(ctx context.Context) error {
	if d.current != nil {
		return nil
	}
	return d.Recover(ctx)
}

func (d *Drawer) adopt(sess *domain.CashSession) {
	if sess == nil || !sess.IsOpen() {
		d.current = nil
		return
	}
	copied := *sess
	d.current = &copied
}

func (d *Drawer) History(ctx context.Context, limit int) ([]domain.CashSession, error) {
	return d.repo.ListSessions(ctx, limit)
}
