// Package claimflow drives a single reward claim from wallet connection to a
// submitted claim.
//
// A Coordinator is one open/close cycle of the claim dialog. It owns the
// wallet connection for that cycle and releases it on every exit path:
// explicit Close, cancellation of the context passed to Open, retry, or
// changing wallets.
package claimflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rewardclaims/internal/auth"
	"rewardclaims/internal/claims"
	"rewardclaims/internal/wallet"
)

// Coordinator runs one claim workflow. It is safe for concurrent use.
type Coordinator struct {
	req      ClaimRequest
	identity auth.Identity
	wallet   wallet.Provider
	claims   claims.Client
	opts     options
	log      *zap.Logger

	mu     sync.Mutex
	state  State
	closed bool
	// epoch changes whenever the connection is torn down; provider events,
	// timers and submission results from an older epoch are dropped.
	epoch       uint64
	unsubscribe func()
	stopTimer   func() bool
	stopCtx     func() bool
	// closeDone is closed once the first Close has released the wallet.
	closeDone chan struct{}
}

type transition struct {
	from, to Phase
}

// effects collects work that must run after the lock is released.
type effects struct {
	transitions []transition
	unsubscribe func()
	stopTimer   func() bool
	disconnect  bool
	success     *Outcome
}

// Open starts a workflow in PhaseIdle. Nothing is asked of the wallet
// provider until RequestConnection. Cancelling ctx closes the workflow.
func Open(ctx context.Context, id auth.Identity, req ClaimRequest, provider wallet.Provider, client claims.Client, opts ...Option) (*Coordinator, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if !id.Enrolled {
		return nil, ErrNotEnrolled
	}
	if strings.TrimSpace(req.ClaimID) == "" {
		return nil, fmt.Errorf("%w: claim id required", ErrInvalidRequest)
	}
	if provider == nil || client == nil {
		return nil, fmt.Errorf("%w: wallet provider and claims client are required", ErrInvalidRequest)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		req:       req,
		identity:  id,
		wallet:    provider,
		claims:    client,
		opts:      o,
		log:       o.logger.With(zap.String("claim_id", req.ClaimID), zap.String("user_id", id.UserID)),
		state:     State{Phase: PhaseIdle},
		closeDone: make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	c.mu.Lock()
	if !c.closed {
		c.stopCtx = stop
	}
	c.mu.Unlock()
	return c, nil
}

// Request returns the claim the workflow was opened for.
func (c *Coordinator) Request() ClaimRequest {
	return c.req
}

// State returns a snapshot of the workflow. After Close it reports
// PhaseClosed with every other field empty.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closed reports whether Close has run, explicitly or through the Open context.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RequestConnection asks the wallet provider to start a connection. The
// workflow moves to PhaseConfirming when the provider reports an address.
func (c *Coordinator) RequestConnection(ctx context.Context) error {
	c.mu.Lock()
	if err := c.expectLocked(PhaseIdle, "request connection"); err != nil {
		c.mu.Unlock()
		return err
	}
	fx := &effects{}
	c.setPhaseLocked(fx, PhaseConnecting)
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	c.run(fx)

	unsubscribe := c.wallet.Subscribe(func(ev wallet.Event) {
		c.handleEvent(epoch, ev)
	})

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		unsubscribe()
		return nil
	}
	c.unsubscribe = unsubscribe
	if c.opts.connectTimeout > 0 {
		c.stopTimer = c.opts.afterFunc(c.opts.connectTimeout, func() {
			c.failConnection(epoch, MessageConnectTimeout, nil)
		})
	}
	c.mu.Unlock()

	if err := c.wallet.BeginConnection(ctx); err != nil {
		c.failConnection(epoch, MessageConnectFailed, err)
		return nil
	}

	// Close, or a connect timeout, may have released the wallet while the
	// provider was still starting. Undo the late start unless a newer
	// connection attempt now owns the wallet.
	c.mu.Lock()
	stale := c.closed || (c.epoch != epoch && c.unsubscribe == nil)
	c.mu.Unlock()
	if stale {
		c.log.Info("wallet connection started after workflow moved on; disconnecting")
		c.wallet.Disconnect()
	}
	return nil
}

// Confirm submits the claim to the currently connected address. A rejected or
// failed submission is reported through State, not as an error; the returned
// error only signals misuse.
func (c *Coordinator) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if err := c.expectLocked(PhaseConfirming, "confirm"); err != nil {
		c.mu.Unlock()
		return err
	}
	addr, ok := c.wallet.CurrentAddress()
	if !ok || addr == "" {
		c.mu.Unlock()
		return ErrNoWallet
	}
	fx := &effects{}
	c.setPhaseLocked(fx, PhaseProcessing)
	epoch := c.epoch
	c.mu.Unlock()
	c.run(fx)

	submitCtx := ctx
	if c.opts.submitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, c.opts.submitTimeout)
		defer cancel()
	}

	resp, err := c.claims.SubmitClaim(submitCtx, claims.SubmitClaimRequest{
		ClaimID:       c.req.ClaimID,
		WalletAddress: addr.String(),
		UserID:        c.identity.UserID,
		AuthToken:     c.identity.Token,
	})

	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.state.Phase != PhaseProcessing {
		c.mu.Unlock()
		c.log.Info("discarding claim result for closed workflow",
			zap.Bool("success", err == nil && resp.Success))
		return nil
	}

	fx = &effects{}
	switch {
	case err != nil:
		c.log.Warn("claim submission failed", zap.Error(err))
		c.setPhaseLocked(fx, PhaseError)
		c.state.ErrorMessage = MessageSubmitFailed
	case resp.Success:
		c.setPhaseLocked(fx, PhaseSuccess)
		c.state.ResolvedWallet = addr
		fx.success = &Outcome{
			ClaimID:      c.req.ClaimID,
			RewardAmount: c.req.RewardAmount,
			UserID:       c.identity.UserID,
			Wallet:       addr,
		}
	default:
		reason := strings.TrimSpace(resp.Reason)
		if reason == "" {
			reason = MessageSubmitFailed
		}
		c.log.Info("claim rejected", zap.String("reason", reason))
		c.setPhaseLocked(fx, PhaseError)
		c.state.ErrorMessage = reason
	}
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// ChangeWallet drops the reviewed wallet and returns to PhaseIdle.
func (c *Coordinator) ChangeWallet() error {
	return c.resetTo(PhaseConfirming, "change wallet")
}

// Retry clears an error and disconnects the wallet so the next attempt starts
// from a fresh connection.
func (c *Coordinator) Retry() error {
	return c.resetTo(PhaseError, "retry")
}

func (c *Coordinator) resetTo(from Phase, action string) error {
	c.mu.Lock()
	if err := c.expectLocked(from, action); err != nil {
		c.mu.Unlock()
		return err
	}
	fx := &effects{}
	c.setPhaseLocked(fx, PhaseIdle)
	c.detachLocked(fx)
	fx.disconnect = true
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// Close disconnects the wallet and discards the workflow. Safe to call from
// any phase and more than once; every call returns after the wallet has been
// released. An in-flight submission is not cancelled; its result is ignored.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.closeDone
		return nil
	}
	c.closed = true
	fx := &effects{}
	c.setPhaseLocked(fx, PhaseClosed)
	c.detachLocked(fx)
	fx.disconnect = true
	stopCtx := c.stopCtx
	c.stopCtx = nil
	c.mu.Unlock()

	if stopCtx != nil {
		stopCtx()
	}
	c.run(fx)
	close(c.closeDone)
	return nil
}

func (c *Coordinator) handleEvent(epoch uint64, ev wallet.Event) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	switch ev.Kind {
	case wallet.EventConnected:
		if c.state.Phase == PhaseConnecting && ev.Address != "" {
			c.setPhaseLocked(fx, PhaseConfirming)
			fx.stopTimer = c.stopTimer
			c.stopTimer = nil
		}
	case wallet.EventDisconnected:
		if c.state.Phase == PhaseConfirming {
			c.setPhaseLocked(fx, PhaseIdle)
			c.detachLocked(fx)
		}
	}
	c.mu.Unlock()
	c.run(fx)
}

func (c *Coordinator) failConnection(epoch uint64, message string, cause error) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch || c.state.Phase != PhaseConnecting {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	c.setPhaseLocked(fx, PhaseError)
	c.state.ErrorMessage = message
	c.detachLocked(fx)
	fx.disconnect = true
	c.mu.Unlock()

	c.log.Warn("wallet connection failed", zap.String("reason", message), zap.Error(cause))
	c.run(fx)
}

func (c *Coordinator) expectLocked(want Phase, action string) error {
	if c.closed {
		return ErrClosed
	}
	if c.state.Phase != want {
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, c.state.Phase)
	}
	return nil
}

// setPhaseLocked moves to phase and clears the fields that phase does not carry.
func (c *Coordinator) setPhaseLocked(fx *effects, phase Phase) {
	fx.transitions = append(fx.transitions, transition{from: c.state.Phase, to: phase})
	c.state = State{Phase: phase}
}

// detachLocked ends the current connection epoch and hands its subscription
// and timer to fx for release.
func (c *Coordinator) detachLocked(fx *effects) {
	c.epoch++
	if c.unsubscribe != nil {
		fx.unsubscribe = c.unsubscribe
		c.unsubscribe = nil
	}
	if c.stopTimer != nil {
		fx.stopTimer = c.stopTimer
		c.stopTimer = nil
	}
}

func (c *Coordinator) run(fx *effects) {
	if fx.stopTimer != nil {
		fx.stopTimer()
	}
	if fx.unsubscribe != nil {
		fx.unsubscribe()
	}
	if fx.disconnect {
		c.wallet.Disconnect()
	}
	for _, t := range fx.transitions {
		c.log.Debug("claim workflow transition",
			zap.String("from", string(t.from)),
			zap.String("to", string(t.to)))
		if c.opts.onTransition != nil {
			c.opts.onTransition(t.from, t.to)
		}
	}
	if fx.success != nil && c.opts.onSuccess != nil {
		c.opts.onSuccess(*fx.success)
	}
}
