// Package delegation manages the ownership handoff of pools and bets
// between the primary ledger and the delegated execution environment.
//
// The invariant it enforces: at any instant a record is writable by exactly
// one environment. Handoffs are totally ordered per record by a lock
// manager, the authoritative owner tag is always re-read under that lock,
// and every flip is appended to the record's handoff log. The receiving
// side observes a handoff asynchronously; callers bound the wait with a
// context deadline and poll through WaitForBet / WaitForPool.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/swivlabs/swiv-engine/internal/auth"
	"github.com/swivlabs/swiv-engine/internal/domain"
)

const (
	// defaultHandoffTTL bounds how long a crashed handoff can hold its
	// record lock.
	defaultHandoffTTL = 30 * time.Second

	// defaultPollInterval is the probe spacing for WaitForBet/WaitForPool.
	defaultPollInterval = 100 * time.Millisecond
)

// Env bundles one execution environment's stores.
type Env struct {
	Pools domain.PoolStore
	Bets  domain.BetStore
}

// Controller performs delegation and undelegation handoffs.
type Controller struct {
	base     Env
	ephem    Env
	grants   domain.GrantStore
	protocol domain.ProtocolStore
	locks    domain.LockManager
	sessions auth.Provider
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
	interval time.Duration
}

// NewController creates a delegation controller between the primary (base)
// and delegated (ephem) environments.
func NewController(
	base, ephem Env,
	grants domain.GrantStore,
	protocol domain.ProtocolStore,
	locks domain.LockManager,
	sessions auth.Provider,
	bus domain.EventBus,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		base:     base,
		ephem:    ephem,
		grants:   grants,
		protocol: protocol,
		locks:    locks,
		sessions: sessions,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		ttl:      defaultHandoffTTL,
		interval: defaultPollInterval,
	}
}

// WithHandoffTTL overrides the handoff lock TTL.
func (c *Controller) WithHandoffTTL(ttl time.Duration) *Controller {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// WithPollInterval overrides the default WaitForBet/WaitForPool probe
// spacing.
func (c *Controller) WithPollInterval(interval time.Duration) *Controller {
	if interval > 0 {
		c.interval = interval
	}
	return c
}

// WithClock overrides the time source. Test helper.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// DelegateBet hands write-ownership of a bet to the delegated environment.
// Callable only by the bet's owner while the record is owned by the primary
// ledger. The record becomes usable on the delegated side eventually, not
// atomically; follow with WaitForBet.
func (c *Controller) DelegateBet(ctx context.Context, actor common.Address, betID common.Hash) error {
	if err := c.session(ctx); err != nil {
		return err
	}
	cfg, err := c.protocol.Get(ctx)
	if err != nil {
		return fmt.Errorf("delegation: read protocol config: %w", err)
	}
	if cfg.Paused {
		return domain.ErrPaused
	}

	release, err := c.locks.Acquire(ctx, "handoff:bet:"+betID.Hex(), c.ttl)
	if err != nil {
		return err
	}
	defer release()

	now := c.now().Unix()
	var handedOff domain.Bet
	err = c.base.Bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != domain.EnvPrimary {
			return domain.ErrOwnershipConflict
		}
		b.Handoffs = domain.NextHandoff(b.Handoffs, domain.EnvPrimary, domain.EnvDelegated, actor, now)
		b.Env = domain.EnvDelegated
		b.GrantID = domain.DeriveGrantID(betID, uint64(len(b.Handoffs)))
		handedOff = *b
		return nil
	})
	if err != nil {
		return err
	}

	grant := domain.Grant{
		ID:        handedOff.GrantID,
		RecordID:  betID,
		Member:    actor,
		CreatedAt: c.now().UTC(),
	}
	if err := c.grants.Create(ctx, grant); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("delegation: create grant: %w", err)
	}

	// Mirror the parent pool so delegated-side reads see current pool
	// state. The mirror keeps the primary owner tag, so it stays
	// read-only over there.
	if pool, err := c.base.Pools.Get(ctx, handedOff.PoolID); err == nil {
		if err := c.ephem.Pools.Put(ctx, pool); err != nil {
			return fmt.Errorf("delegation: mirror pool: %w", err)
		}
	}

	if err := c.ephem.Bets.Put(ctx, handedOff); err != nil {
		return fmt.Errorf("delegation: materialize bet: %w", err)
	}

	c.publish(ctx, domain.Event{Type: domain.EventBetDelegated, Pool: handedOff.PoolID, Bet: betID, Actor: actor})
	c.logger.Info("bet delegated",
		slog.String("bet", betID.Hex()),
		slog.String("owner", actor.Hex()),
	)
	return nil
}

// UndelegateBet hands a bet back to the primary ledger, carrying every
// mutation made while delegated. Callable by the bet's owner, only after
// the pool's funding window has closed, so the revealed prediction cannot
// leak while betting is still open.
func (c *Controller) UndelegateBet(ctx context.Context, actor common.Address, betID common.Hash) error {
	if err := c.session(ctx); err != nil {
		return err
	}
	release, err := c.locks.Acquire(ctx, "handoff:bet:"+betID.Hex(), c.ttl)
	if err != nil {
		return err
	}
	defer release()

	bet, err := c.ephem.Bets.Get(ctx, betID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOwnershipConflict
		}
		return err
	}
	if bet.Owner != actor {
		return domain.ErrUnauthorized
	}
	return c.undelegateOne(ctx, actor, bet)
}

// BatchUndelegateBets is the administrator's multi-record form of
// UndelegateBet over a set of bets belonging to one pool. Each record
// converges to the same end state as the single form; records that fail
// are reported individually and do not abort the rest, so a retry over the
// remainder is safe.
func (c *Controller) BatchUndelegateBets(ctx context.Context, actor common.Address, poolID common.Hash, betIDs []common.Hash) ([]BatchResult, error) {
	if err := c.session(ctx); err != nil {
		return nil, err
	}
	cfg, err := c.protocol.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("delegation: read protocol config: %w", err)
	}
	if cfg.Admin != actor {
		return nil, domain.ErrUnauthorized
	}

	results := make([]BatchResult, 0, len(betIDs))
	for _, betID := range betIDs {
		results = append(results, BatchResult{
			BetID: betID,
			Err:   c.batchUndelegateOne(ctx, actor, poolID, betID),
		})
	}
	return results, nil
}

// BatchResult is the per-record outcome of a batch handoff.
type BatchResult struct {
	BetID common.Hash
	Err   error
}

func (c *Controller) batchUndelegateOne(ctx context.Context, actor common.Address, poolID, betID common.Hash) error {
	release, err := c.locks.Acquire(ctx, "handoff:bet:"+betID.Hex(), c.ttl)
	if err != nil {
		return err
	}
	defer release()

	bet, err := c.ephem.Bets.Get(ctx, betID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOwnershipConflict
		}
		return err
	}
	if bet.PoolID != poolID {
		return fmt.Errorf("delegation: bet %s not in pool %s", betID.Hex(), poolID.Hex())
	}
	return c.undelegateOne(ctx, actor, bet)
}

// undelegateOne flips one delegated bet back to the primary ledger. The
// caller holds the record's handoff lock.
func (c *Controller) undelegateOne(ctx context.Context, actor common.Address, bet domain.Bet) error {
	if bet.Env != domain.EnvDelegated {
		return domain.ErrOwnershipConflict
	}

	pool, err := c.poolFor(ctx, bet.PoolID)
	if err != nil {
		return err
	}
	now := c.now().Unix()
	if now < pool.EndTime {
		return domain.ErrUndelegationTooEarly
	}

	bet.Handoffs = domain.NextHandoff(bet.Handoffs, domain.EnvDelegated, domain.EnvPrimary, actor, now)
	bet.Env = domain.EnvPrimary

	// Durably reflect delegated-side mutations on the primary ledger
	// before the record disappears from the delegated side.
	if err := c.base.Bets.Put(ctx, bet); err != nil {
		return fmt.Errorf("delegation: commit bet: %w", err)
	}
	if err := c.ephem.Bets.Delete(ctx, bet.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delegation: remove delegated copy: %w", err)
	}
	if bet.GrantID != (common.Hash{}) {
		if err := c.grants.Revoke(ctx, bet.GrantID, c.now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("delegation: revoke grant: %w", err)
		}
	}

	c.publish(ctx, domain.Event{Type: domain.EventBetUndelegated, Pool: bet.PoolID, Bet: bet.ID, Actor: actor})
	return nil
}

// DelegatePool hands a pool to the delegated environment. Admin-only; bets
// are delegated individually by their owners.
func (c *Controller) DelegatePool(ctx context.Context, actor common.Address, poolID common.Hash) error {
	if err := c.session(ctx); err != nil {
		return err
	}
	release, err := c.locks.Acquire(ctx, "handoff:pool:"+poolID.Hex(), c.ttl)
	if err != nil {
		return err
	}
	defer release()

	now := c.now().Unix()
	var handedOff domain.Pool
	err = c.base.Pools.Mutate(ctx, poolID, func(p *domain.Pool) error {
		if p.Admin != actor {
			return domain.ErrUnauthorized
		}
		if p.Env != domain.EnvPrimary {
			return domain.ErrOwnershipConflict
		}
		p.Handoffs = domain.NextHandoff(p.Handoffs, domain.EnvPrimary, domain.EnvDelegated, actor, now)
		p.Env = domain.EnvDelegated
		handedOff = *p
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.ephem.Pools.Put(ctx, handedOff); err != nil {
		return fmt.Errorf("delegation: materialize pool: %w", err)
	}
	c.logger.Info("pool delegated", slog.String("pool", poolID.Hex()))
	return nil
}

// UndelegatePool hands a pool back to the primary ledger. Rejected with
// ErrChildrenStillDelegated while any of the pool's bets is still owned by
// the delegated environment.
func (c *Controller) UndelegatePool(ctx context.Context, actor common.Address, poolID common.Hash) error {
	if err := c.session(ctx); err != nil {
		return err
	}
	release, err := c.locks.Acquire(ctx, "handoff:pool:"+poolID.Hex(), c.ttl)
	if err != nil {
		return err
	}
	defer release()

	pool, err := c.ephem.Pools.Get(ctx, poolID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOwnershipConflict
		}
		return err
	}
	if pool.Admin != actor {
		return domain.ErrUnauthorized
	}
	if pool.Env != domain.EnvDelegated {
		return domain.ErrOwnershipConflict
	}

	baseBets, err := c.base.Bets.ListByPool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("delegation: list bets: %w", err)
	}
	for _, b := range baseBets {
		if b.Env == domain.EnvDelegated {
			return domain.ErrChildrenStillDelegated
		}
	}

	pool.Handoffs = domain.NextHandoff(pool.Handoffs, domain.EnvDelegated, domain.EnvPrimary, actor, c.now().Unix())
	pool.Env = domain.EnvPrimary

	if err := c.base.Pools.Put(ctx, pool); err != nil {
		return fmt.Errorf("delegation: commit pool: %w", err)
	}
	if err := c.ephem.Pools.Delete(ctx, poolID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delegation: remove delegated copy: %w", err)
	}
	c.logger.Info("pool undelegated", slog.String("pool", poolID.Hex()))
	return nil
}

// WaitForBet polls until the bet is visible in env with matching ownership,
// or ctx expires. interval <= 0 uses the controller's poll interval.
func (c *Controller) WaitForBet(ctx context.Context, env domain.Environment, betID common.Hash, interval time.Duration) error {
	store := c.base.Bets
	if env == domain.EnvDelegated {
		store = c.ephem.Bets
	}
	if interval <= 0 {
		interval = c.interval
	}
	return poll(ctx, interval, func() (bool, error) {
		bet, err := store.Get(ctx, betID)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return bet.Env == env, nil
	})
}

// WaitForPool is WaitForBet for pool records.
func (c *Controller) WaitForPool(ctx context.Context, env domain.Environment, poolID common.Hash, interval time.Duration) error {
	store := c.base.Pools
	if env == domain.EnvDelegated {
		store = c.ephem.Pools
	}
	if interval <= 0 {
		interval = c.interval
	}
	return poll(ctx, interval, func() (bool, error) {
		pool, err := store.Get(ctx, poolID)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return pool.Env == env, nil
	})
}

// poll runs probe at the given interval until it reports done or ctx
// expires. There is no unbounded wait: the ctx deadline is the caller's
// timeout.
func poll(ctx context.Context, interval time.Duration, probe func() (bool, error)) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := probe()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poolFor reads a bet's pool, preferring the delegated mirror when present.
func (c *Controller) poolFor(ctx context.Context, poolID common.Hash) (domain.Pool, error) {
	if pool, err := c.ephem.Pools.Get(ctx, poolID); err == nil {
		return pool, nil
	}
	return c.base.Pools.Get(ctx, poolID)
}

// session obtains delegated-environment credentials before any handoff.
func (c *Controller) session(ctx context.Context) error {
	if c.sessions == nil {
		return nil
	}
	if _, err := c.sessions.Session(ctx); err != nil {
		return fmt.Errorf("delegation: session: %w", err)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, ev domain.Event) {
	if c.bus == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = c.now().UTC()
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.logger.Warn("delegation: publish event", slog.String("error", err.Error()))
	}
}
