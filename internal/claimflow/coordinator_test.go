package claimflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardclaims/internal/auth"
	"rewardclaims/internal/claims"
	"rewardclaims/internal/wallet"
)

var member = auth.Identity{UserID: "u1", Enrolled: true, Token: "tok"}

type fakeWallet struct {
	mu        sync.Mutex
	address   wallet.Address
	listeners map[int]func(wallet.Event)
	nextID    int
	calls     []string
	beginErr  error
	// onBegin runs at the start of BeginConnection, before the call is logged.
	onBegin func()
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{listeners: make(map[int]func(wallet.Event))}
}

func (f *fakeWallet) BeginConnection(context.Context) error {
	if f.onBegin != nil {
		f.onBegin()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "begin")
	return f.beginErr
}

func (f *fakeWallet) CurrentAddress() (wallet.Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address, f.address != ""
}

func (f *fakeWallet) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address != ""
}

func (f *fakeWallet) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	f.address = ""
}

func (f *fakeWallet) Subscribe(fn func(wallet.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeWallet) emit(ev wallet.Event) {
	f.mu.Lock()
	var fns []func(wallet.Event)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// connect simulates the user picking a wallet in the provider's UI.
func (f *fakeWallet) connect(addr wallet.Address) {
	f.setAddress(addr)
	f.emit(wallet.Event{Kind: wallet.EventConnected, Address: addr})
}

func (f *fakeWallet) drop() {
	f.setAddress("")
	f.emit(wallet.Event{Kind: wallet.EventDisconnected})
}

// setAddress changes the live address without notifying anyone.
func (f *fakeWallet) setAddress(addr wallet.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.address = addr
}

func (f *fakeWallet) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeWallet) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type stubClaims struct {
	mu      sync.Mutex
	calls   []claims.SubmitClaimRequest
	resp    claims.SubmitClaimResponse
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubClaims) SubmitClaim(ctx context.Context, req claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.resp, s.err
}

func (s *stubClaims) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func open(t *testing.T, w wallet.Provider, api claims.Client, opts ...Option) *Coordinator {
	t.Helper()
	c, err := Open(context.Background(), member, ClaimRequest{ClaimID: "c1", RewardAmount: 5_000_000_000}, w, api, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func toConfirming(t *testing.T, c *Coordinator, w *fakeWallet, addr wallet.Address) {
	t.Helper()
	require.NoError(t, c.RequestConnection(context.Background()))
	require.Equal(t, PhaseConnecting, c.State().Phase)
	w.connect(addr)
	require.Equal(t, PhaseConfirming, c.State().Phase)
}

func TestSuccessfulClaim(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{resp: claims.SubmitClaimResponse{Success: true}}

	var outcomes []Outcome
	c := open(t, w, api, WithSuccessObserver(func(o Outcome) { outcomes = append(outcomes, o) }))
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())
	assert.Empty(t, w.callLog(), "open must not touch the wallet")

	toConfirming(t, c, w, "ADDR1")
	assert.Zero(t, api.callCount(), "no submission before confirm")

	require.NoError(t, c.Confirm(context.Background()))

	assert.Equal(t, State{Phase: PhaseSuccess, ResolvedWallet: "ADDR1"}, c.State())
	require.Len(t, api.calls, 1)
	assert.Equal(t, claims.SubmitClaimRequest{ClaimID: "c1", WalletAddress: "ADDR1", UserID: "u1", AuthToken: "tok"}, api.calls[0])
	require.Len(t, outcomes, 1)
	assert.Equal(t, Outcome{ClaimID: "c1", RewardAmount: 5_000_000_000, UserID: "u1", Wallet: "ADDR1"}, outcomes[0])

	// The resolved wallet is what was submitted, whatever the provider says later.
	w.setAddress("ADDR2")
	w.drop()
	assert.Equal(t, wallet.Address("ADDR1"), c.State().ResolvedWallet)
	assert.Equal(t, PhaseSuccess, c.State().Phase)
	assert.Len(t, outcomes, 1)
}

func TestRejectedClaimThenRetry(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{resp: claims.SubmitClaimResponse{Success: false, Reason: "expired"}}
	c := open(t, w, api)

	toConfirming(t, c, w, "ADDR1")
	require.NoError(t, c.Confirm(context.Background()))
	assert.Equal(t, State{Phase: PhaseError, ErrorMessage: "expired"}, c.State())

	require.NoError(t, c.Retry())
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())
	assert.False(t, w.IsConnected())
	assert.Zero(t, w.listenerCount())
}

func TestFailureMessages(t *testing.T) {
	cases := []struct {
		name string
		resp claims.SubmitClaimResponse
		err  error
		want string
	}{
		{"explicit reason", claims.SubmitClaimResponse{Reason: "already claimed"}, nil, "already claimed"},
		{"no reason", claims.SubmitClaimResponse{}, nil, MessageSubmitFailed},
		{"blank reason", claims.SubmitClaimResponse{Reason: "  "}, nil, MessageSubmitFailed},
		{"transport fault", claims.SubmitClaimResponse{}, errors.New("dial tcp 10.0.0.1:443: i/o timeout"), MessageSubmitFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newFakeWallet()
			c := open(t, w, &stubClaims{resp: tc.resp, err: tc.err})
			toConfirming(t, c, w, "ADDR1")

			require.NoError(t, c.Confirm(context.Background()), "submission failures become state")
			st := c.State()
			assert.Equal(t, PhaseError, st.Phase)
			assert.Equal(t, tc.want, st.ErrorMessage)
			assert.Empty(t, st.ResolvedWallet)
		})
	}
}

func TestConcurrentConfirmSubmitsOnce(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{resp: claims.SubmitClaimResponse{Success: true}}
	c := open(t, w, api)
	toConfirming(t, c, w, "ADDR1")

	const clicks = 16
	errs := make(chan error, clicks)
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Confirm(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, PhaseSuccess, c.State().Phase)
}

func TestActionsRejectedWhileProcessing(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{
		resp:    claims.SubmitClaimResponse{Success: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := open(t, w, api)
	toConfirming(t, c, w, "ADDR1")

	done := make(chan error, 1)
	go func() { done <- c.Confirm(context.Background()) }()
	<-api.started

	assert.ErrorIs(t, c.Confirm(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, c.Retry(), ErrInvalidTransition)
	assert.ErrorIs(t, c.ChangeWallet(), ErrInvalidTransition)
	assert.ErrorIs(t, c.RequestConnection(context.Background()), ErrInvalidTransition)
	assert.Equal(t, PhaseProcessing, c.State().Phase)

	close(api.release)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseSuccess, c.State().Phase)
	assert.Equal(t, 1, api.callCount())
}

func TestCloseFromEveryPhase(t *testing.T) {
	setups := map[Phase]func(t *testing.T, c *Coordinator, w *fakeWallet, api *stubClaims){
		PhaseIdle: func(*testing.T, *Coordinator, *fakeWallet, *stubClaims) {},
		PhaseConnecting: func(t *testing.T, c *Coordinator, _ *fakeWallet, _ *stubClaims) {
			require.NoError(t, c.RequestConnection(context.Background()))
		},
		PhaseConfirming: func(t *testing.T, c *Coordinator, w *fakeWallet, _ *stubClaims) {
			toConfirming(t, c, w, "ADDR1")
		},
		PhaseProcessing: func(t *testing.T, c *Coordinator, w *fakeWallet, api *stubClaims) {
			api.started = make(chan struct{})
			api.release = make(chan struct{})
			toConfirming(t, c, w, "ADDR1")
			go func() { _ = c.Confirm(context.Background()) }()
			<-api.started
			t.Cleanup(func() { close(api.release) })
		},
		PhaseSuccess: func(t *testing.T, c *Coordinator, w *fakeWallet, _ *stubClaims) {
			toConfirming(t, c, w, "ADDR1")
			require.NoError(t, c.Confirm(context.Background()))
		},
		PhaseError: func(t *testing.T, c *Coordinator, w *fakeWallet, api *stubClaims) {
			api.resp = claims.SubmitClaimResponse{Reason: "expired"}
			toConfirming(t, c, w, "ADDR1")
			require.NoError(t, c.Confirm(context.Background()))
		},
	}

	for phase, setup := range setups {
		t.Run(string(phase), func(t *testing.T) {
			w := newFakeWallet()
			api := &stubClaims{resp: claims.SubmitClaimResponse{Success: true}}
			c := open(t, w, api)
			setup(t, c, w, api)
			require.Equal(t, phase, c.State().Phase)

			require.NoError(t, c.Close())
			require.NoError(t, c.Close())

			assert.False(t, w.IsConnected())
			assert.Contains(t, w.callLog(), "disconnect")
			assert.Zero(t, w.listenerCount())
			assert.True(t, c.Closed())
			assert.Equal(t, State{Phase: PhaseClosed}, c.State())

			assert.ErrorIs(t, c.RequestConnection(context.Background()), ErrClosed)
			assert.ErrorIs(t, c.Confirm(context.Background()), ErrClosed)
			assert.ErrorIs(t, c.Retry(), ErrClosed)
			assert.ErrorIs(t, c.ChangeWallet(), ErrClosed)
		})
	}
}

func TestCloseWhileConnectionStarting(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{})
	w.onBegin = func() { _ = c.Close() }

	require.NoError(t, c.RequestConnection(context.Background()))

	assert.True(t, c.Closed())
	assert.Equal(t, []string{"disconnect", "begin", "disconnect"}, w.callLog())
	assert.False(t, w.IsConnected())
	assert.Zero(t, w.listenerCount())
}

func TestCloseWhileBridgePrompting(t *testing.T) {
	var c *Coordinator
	bridge := wallet.NewBridge(wallet.ChainSolana, wallet.WithPrompt(func(context.Context) error {
		return c.Close()
	}))
	c = open(t, bridge, claims.FakeClient{})

	require.NoError(t, c.RequestConnection(context.Background()))

	assert.True(t, c.Closed())
	assert.False(t, bridge.IsPending(), "closed workflow must not leave a connection request open")
	_, err := bridge.Deliver("So11111111111111111111111111111111111111112")
	assert.ErrorIs(t, err, wallet.ErrNotPending)
}

func TestConnectTimeoutWhileConnectionStarting(t *testing.T) {
	w := newFakeWallet()
	timer := &manualTimer{}
	c := open(t, w, &stubClaims{}, withAfterFunc(timer.afterFunc))
	w.onBegin = func() { timer.fire() }

	require.NoError(t, c.RequestConnection(context.Background()))

	assert.Equal(t, State{Phase: PhaseError, ErrorMessage: MessageConnectTimeout}, c.State())
	assert.Equal(t, []string{"disconnect", "begin", "disconnect"}, w.callLog())
}

func TestCloseDuringProcessingDiscardsResult(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{
		resp:    claims.SubmitClaimResponse{Success: true},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	succeeded := false
	c := open(t, w, api, WithSuccessObserver(func(Outcome) { succeeded = true }))
	toConfirming(t, c, w, "ADDR1")

	done := make(chan error, 1)
	go func() { done <- c.Confirm(context.Background()) }()
	<-api.started

	require.NoError(t, c.Close())
	assert.False(t, w.IsConnected(), "close must not wait for the submission")

	close(api.release)
	require.NoError(t, <-done)

	assert.Equal(t, State{Phase: PhaseClosed}, c.State())
	assert.False(t, succeeded)
}

func TestRetryDisconnectsBeforeReconnecting(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{resp: claims.SubmitClaimResponse{Reason: "expired"}}
	c := open(t, w, api)
	toConfirming(t, c, w, "ADDR1")
	require.NoError(t, c.Confirm(context.Background()))
	require.True(t, w.IsConnected(), "provider still reports the old connection")

	require.NoError(t, c.Retry())
	assert.False(t, w.IsConnected())

	require.NoError(t, c.RequestConnection(context.Background()))
	assert.Equal(t, []string{"begin", "disconnect", "begin"}, w.callLog())
}

func TestRequestConnectionOnlyFromIdle(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{})

	require.NoError(t, c.RequestConnection(context.Background()))
	err := c.RequestConnection(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, []string{"begin"}, w.callLog())
	assert.Equal(t, PhaseConnecting, c.State().Phase)
}

func TestConfirmOnlyFromConfirming(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{}
	c := open(t, w, api)

	require.ErrorIs(t, c.Confirm(context.Background()), ErrInvalidTransition)
	require.ErrorIs(t, c.Retry(), ErrInvalidTransition)
	require.ErrorIs(t, c.ChangeWallet(), ErrInvalidTransition)
	assert.Zero(t, api.callCount())
}

func TestConfirmRequiresConnectedAddress(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{resp: claims.SubmitClaimResponse{Success: true}}
	c := open(t, w, api)
	toConfirming(t, c, w, "ADDR1")

	w.setAddress("")
	require.ErrorIs(t, c.Confirm(context.Background()), ErrNoWallet)
	assert.Equal(t, PhaseConfirming, c.State().Phase)
	assert.Zero(t, api.callCount())
}

func TestConnectedEventHandledOnce(t *testing.T) {
	w := newFakeWallet()
	var transitions []transition
	c := open(t, w, &stubClaims{}, WithTransitionObserver(func(from, to Phase) {
		transitions = append(transitions, transition{from, to})
	}))
	toConfirming(t, c, w, "ADDR1")

	w.connect("ADDR1")
	w.connect("ADDR2")
	assert.Equal(t, PhaseConfirming, c.State().Phase)
	assert.Equal(t, []transition{
		{PhaseIdle, PhaseConnecting},
		{PhaseConnecting, PhaseConfirming},
	}, transitions)
}

func TestConnectedEventWithoutAddressIgnored(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{})
	require.NoError(t, c.RequestConnection(context.Background()))

	w.emit(wallet.Event{Kind: wallet.EventConnected})
	assert.Equal(t, PhaseConnecting, c.State().Phase)
}

func TestChangeWallet(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{})
	toConfirming(t, c, w, "ADDR1")

	require.NoError(t, c.ChangeWallet())
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())
	assert.False(t, w.IsConnected())

	// A late event from the dropped connection must not revive it.
	w.connect("ADDR1")
	assert.Equal(t, PhaseIdle, c.State().Phase)

	toConfirming(t, c, w, "ADDR2")
}

func TestProviderDisconnectWhileConfirming(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{})
	toConfirming(t, c, w, "ADDR1")

	w.drop()
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())
	assert.Zero(t, w.listenerCount())
}

type manualTimer struct {
	mu      sync.Mutex
	fire    func()
	stopped bool
}

func (m *manualTimer) afterFunc(_ time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fire = f
	m.stopped = false
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
		return true
	}
}

func TestConnectTimeout(t *testing.T) {
	w := newFakeWallet()
	timer := &manualTimer{}
	c := open(t, w, &stubClaims{}, withAfterFunc(timer.afterFunc))

	require.NoError(t, c.RequestConnection(context.Background()))
	require.NotNil(t, timer.fire)

	timer.fire()
	assert.Equal(t, State{Phase: PhaseError, ErrorMessage: MessageConnectTimeout}, c.State())
	assert.Equal(t, []string{"begin", "disconnect"}, w.callLog())

	w.connect("ADDR1")
	assert.Equal(t, PhaseError, c.State().Phase, "late connection after timeout is ignored")

	require.NoError(t, c.Retry())
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

func TestConnectTimerStoppedOnConnect(t *testing.T) {
	w := newFakeWallet()
	timer := &manualTimer{}
	c := open(t, w, &stubClaims{}, withAfterFunc(timer.afterFunc))
	toConfirming(t, c, w, "ADDR1")

	assert.True(t, timer.stopped)
	timer.fire()
	assert.Equal(t, PhaseConfirming, c.State().Phase)
}

func TestRealConnectTimeout(t *testing.T) {
	w := newFakeWallet()
	c := open(t, w, &stubClaims{}, WithConnectTimeout(10*time.Millisecond))
	require.NoError(t, c.RequestConnection(context.Background()))

	require.Eventually(t, func() bool {
		return c.State().Phase == PhaseError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, MessageConnectTimeout, c.State().ErrorMessage)
}

func TestBeginConnectionFailure(t *testing.T) {
	w := newFakeWallet()
	w.beginErr = errors.New("wallet modal unavailable")
	c := open(t, w, &stubClaims{})

	require.NoError(t, c.RequestConnection(context.Background()))
	assert.Equal(t, State{Phase: PhaseError, ErrorMessage: MessageConnectFailed}, c.State())
	assert.Zero(t, w.listenerCount())
}

func TestSubmitTimeoutAppliesToClaimCall(t *testing.T) {
	w := newFakeWallet()
	var deadline bool
	api := claimsFunc(func(ctx context.Context, _ claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error) {
		_, deadline = ctx.Deadline()
		return claims.SubmitClaimResponse{Success: true}, nil
	})
	c := open(t, w, api, WithSubmitTimeout(time.Second))
	toConfirming(t, c, w, "ADDR1")

	require.NoError(t, c.Confirm(context.Background()))
	assert.True(t, deadline)
}

type claimsFunc func(context.Context, claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error)

func (f claimsFunc) SubmitClaim(ctx context.Context, req claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error) {
	return f(ctx, req)
}

func TestOpenValidation(t *testing.T) {
	w := newFakeWallet()
	api := &stubClaims{}
	ctx := context.Background()
	req := ClaimRequest{ClaimID: "c1"}

	_, err := Open(ctx, auth.Identity{}, req, w, api)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = Open(ctx, auth.Identity{UserID: "u1"}, req, w, api)
	assert.ErrorIs(t, err, ErrNotEnrolled)

	_, err = Open(ctx, member, ClaimRequest{ClaimID: " "}, w, api)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = Open(ctx, member, req, nil, api)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestContextCancellationReleasesWallet(t *testing.T) {
	w := newFakeWallet()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := Open(ctx, member, ClaimRequest{ClaimID: "c1"}, w, &stubClaims{})
	require.NoError(t, err)
	toConfirming(t, c, w, "ADDR1")

	cancel()
	require.Eventually(t, c.Closed, time.Second, 5*time.Millisecond)
	assert.False(t, w.IsConnected())
	assert.Equal(t, PhaseClosed, c.State().Phase)
}

func TestTransitionObserverSeesFullLifecycle(t *testing.T) {
	w := newFakeWallet()
	var transitions []transition
	c := open(t, w, &stubClaims{resp: claims.SubmitClaimResponse{Success: true}},
		WithTransitionObserver(func(from, to Phase) {
			transitions = append(transitions, transition{from, to})
		}))

	toConfirming(t, c, w, "ADDR1")
	require.NoError(t, c.Confirm(context.Background()))
	require.NoError(t, c.Close())

	assert.Equal(t, []transition{
		{PhaseIdle, PhaseConnecting},
		{PhaseConnecting, PhaseConfirming},
		{PhaseConfirming, PhaseProcessing},
		{PhaseProcessing, PhaseSuccess},
		{PhaseSuccess, PhaseClosed},
	}, transitions)
}

func TestWithBridgeAndFakeBackend(t *testing.T) {
	const addr = "So11111111111111111111111111111111111111112"
	bridge := wallet.NewBridge(wallet.ChainSolana)
	api := claims.FakeClient{Rejections: map[string]string{"c2": "already claimed"}}

	c, err := Open(context.Background(), member, ClaimRequest{ClaimID: "c2", RewardAmount: 1}, bridge, api)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RequestConnection(context.Background()))
	assert.True(t, bridge.IsPending())

	_, err = bridge.Deliver(addr)
	require.NoError(t, err)
	require.Equal(t, PhaseConfirming, c.State().Phase)

	require.NoError(t, c.Confirm(context.Background()))
	assert.Equal(t, State{Phase: PhaseError, ErrorMessage: "already claimed"}, c.State())

	require.NoError(t, c.Retry())
	assert.False(t, bridge.IsConnected())
}
