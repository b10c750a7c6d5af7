package station

import (
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"testing"
	"time"

	"apsta"

	"github.com/juju/clock/testclock"
)

// --- fakes ---

type fakeConnector struct {
	calls int
}

func (f *fakeConnector) Connect() { f.calls++ }

// --- helpers ---

func newTestSupervisor(t *testing.T, maxRetries int, opts ...Option) (*Supervisor, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{}
	return New(Config{MaxRetries: maxRetries}, conn, opts...), conn
}

func feed(s *Supervisor, events ...apsta.Event) Result {
	var last Result
	for _, ev := range events {
		last = s.HandleEvent(ev)
	}
	return last
}

func disc(reason string) apsta.Event {
	return apsta.StationDisconnected{Reason: reason}
}

func gotIP(s string) apsta.Event {
	return apsta.StationGotAddress{IP: netip.MustParseAddr(s)}
}

// --- tests ---

func TestSupervisor_InitialState(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)

	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if _, ok := s.Address(); ok {
		t.Error("idle supervisor should not report an address")
	}
	if conn.calls != 0 {
		t.Errorf("connect calls = %d, want 0", conn.calls)
	}
	st := s.Status()
	if st.State != "idle" || st.MaxRetries != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestSupervisor_StartConnects(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)

	res := s.HandleEvent(apsta.StationStarted{})

	if res.From != StateIdle || res.To != StateConnecting {
		t.Errorf("transition = %s -> %s, want idle -> connecting", res.From, res.To)
	}
	if !res.ConnectIssued || conn.calls != 1 {
		t.Errorf("connect issued = %v, calls = %d, want true, 1", res.ConnectIssued, conn.calls)
	}
}

func TestSupervisor_ScenarioA_GotAddress(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)

	res := feed(s, apsta.StationStarted{}, gotIP("10.0.0.5"))

	if s.State() != StateConnected {
		t.Fatalf("state = %s, want connected", s.State())
	}
	if res.Retries != 0 {
		t.Errorf("retries = %d, want 0", res.Retries)
	}
	if res.Signal != SignalAddressAcquired {
		t.Errorf("signal = %s, want address_acquired", res.Signal)
	}
	addr, ok := s.Address()
	if !ok || addr != netip.MustParseAddr("10.0.0.5") {
		t.Errorf("address = %v, %v, want 10.0.0.5", addr, ok)
	}
	if conn.calls != 1 {
		t.Errorf("connect calls = %d, want 1", conn.calls)
	}
}

func TestSupervisor_ScenarioB_RetryExhaustion(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)

	var failures []error
	s.onFailure = append(s.onFailure, func(err error) { failures = append(failures, err) })

	feed(s, apsta.StationStarted{}, disc("auth"), disc("auth"))
	if s.State() != StateRetrying {
		t.Fatalf("state after two disconnects = %s, want retrying", s.State())
	}

	res := s.HandleEvent(disc("auth"))

	if res.To != StateFailed {
		t.Errorf("state = %s, want failed", res.To)
	}
	if res.Retries != 3 {
		t.Errorf("retries = %d, want 3", res.Retries)
	}
	if res.Signal != SignalRetryExhausted {
		t.Errorf("signal = %s, want retry_exhausted", res.Signal)
	}
	// Initial attempt plus three retries.
	if conn.calls != 4 {
		t.Errorf("connect calls = %d, want 4", conn.calls)
	}

	if len(failures) != 3 {
		t.Fatalf("failure reports = %d, want 3", len(failures))
	}
	for i, err := range failures[:2] {
		var ce *ConnectError
		if !errors.As(err, &ce) || ce.Attempt != i+1 {
			t.Errorf("failure %d = %v, want ConnectError attempt %d", i, err, i+1)
		}
		if errors.Is(err, ErrRetryExhausted) {
			t.Errorf("failure %d should not be exhaustion: %v", i, err)
		}
	}
	if !errors.Is(failures[2], ErrRetryExhausted) || !errors.Is(failures[2], ErrConnectFailure) {
		t.Errorf("last failure = %v, want exhausted wrapping connect failure", failures[2])
	}

	// Further disconnects stay failed, issue nothing and report nothing.
	res = s.HandleEvent(disc("auth"))
	if res.To != StateFailed || res.ConnectIssued || res.Signal != SignalNone {
		t.Errorf("disconnect in failed = %+v", res)
	}
	if conn.calls != 4 || len(failures) != 3 {
		t.Errorf("calls = %d, failures = %d after extra disconnect", conn.calls, len(failures))
	}
}

func TestSupervisor_ZeroRetriesFailsImmediately(t *testing.T) {
	s, conn := newTestSupervisor(t, 0)

	res := feed(s, apsta.StationStarted{}, disc("no-ap-found"))

	if res.To != StateFailed || res.ConnectIssued {
		t.Errorf("result = %+v, want failed without connect", res)
	}
	if conn.calls != 1 {
		t.Errorf("connect calls = %d, want 1", conn.calls)
	}
}

func TestSupervisor_GotAddressResetsFromAnyState(t *testing.T) {
	tests := []struct {
		name  string
		prior []apsta.Event
	}{
		{"idle", nil},
		{"connecting", []apsta.Event{apsta.StationStarted{}}},
		{"retrying", []apsta.Event{apsta.StationStarted{}, disc("x")}},
		{"failed", []apsta.Event{apsta.StationStarted{}, disc("x"), disc("x")}},
		{"connected", []apsta.Event{apsta.StationStarted{}, gotIP("10.0.0.9")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSupervisor(t, 2)
			feed(s, tt.prior...)

			res := s.HandleEvent(gotIP("10.0.0.5"))
			if res.To != StateConnected || res.Retries != 0 {
				t.Errorf("result = %s retries %d, want connected retries 0", res.To, res.Retries)
			}

			// Re-delivery is a no-op state-wise.
			again := s.HandleEvent(gotIP("10.0.0.5"))
			if again.Changed() || again.Signal != SignalNone {
				t.Errorf("duplicate delivery = %+v, want unchanged", again)
			}
		})
	}
}

func TestSupervisor_AddressRefresh(t *testing.T) {
	s, _ := newTestSupervisor(t, 3)
	feed(s, apsta.StationStarted{}, gotIP("10.0.0.5"))

	res := s.HandleEvent(gotIP("10.0.0.6"))

	if res.Changed() {
		t.Error("refresh should not change state")
	}
	if res.Signal != SignalAddressAcquired {
		t.Errorf("signal = %s, want address_acquired on a new address", res.Signal)
	}
	if addr, _ := s.Address(); addr != netip.MustParseAddr("10.0.0.6") {
		t.Errorf("address = %s, want 10.0.0.6", addr)
	}
}

func TestSupervisor_DisconnectFromConnected(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)
	feed(s, apsta.StationStarted{}, gotIP("10.0.0.5"))

	res := s.HandleEvent(disc("beacon timeout"))

	if res.From != StateConnected || res.To != StateRetrying {
		t.Errorf("transition = %s -> %s", res.From, res.To)
	}
	if res.LostAddress != netip.MustParseAddr("10.0.0.5") {
		t.Errorf("lost address = %v", res.LostAddress)
	}
	if _, ok := s.Address(); ok {
		t.Error("address should be cleared after disconnect")
	}
	if conn.calls != 2 {
		t.Errorf("connect calls = %d, want 2", conn.calls)
	}
}

func TestSupervisor_GotAddressClearsCounterMidSession(t *testing.T) {
	s, conn := newTestSupervisor(t, 2)

	feed(s, apsta.StationStarted{}, disc("x"), gotIP("10.0.0.5"), disc("x"))
	if s.State() != StateRetrying {
		t.Fatalf("state = %s, want retrying: counter should restart after an address", s.State())
	}
	if s.Status().Retries != 1 {
		t.Errorf("retries = %d, want 1", s.Status().Retries)
	}
	if conn.calls != 3 {
		t.Errorf("connect calls = %d, want 3", conn.calls)
	}
}

func TestSupervisor_IdleAndDuplicateStart(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)

	res := s.HandleEvent(disc("early"))
	if res.Changed() || res.ConnectIssued {
		t.Errorf("disconnect in idle = %+v, want ignored", res)
	}

	feed(s, apsta.StationStarted{}, apsta.StationStarted{})
	if conn.calls != 1 {
		t.Errorf("connect calls = %d, want duplicate start ignored", conn.calls)
	}
}

func TestSupervisor_StartAfterFailureOpensNewSession(t *testing.T) {
	s, conn := newTestSupervisor(t, 1)
	feed(s, apsta.StationStarted{}, disc("x"))
	if s.State() != StateFailed {
		t.Fatalf("state = %s, want failed", s.State())
	}

	res := s.HandleEvent(apsta.StationStarted{})

	if res.To != StateConnecting || res.Retries != 0 || !res.ConnectIssued {
		t.Errorf("restart = %+v", res)
	}
	if conn.calls != 3 {
		t.Errorf("connect calls = %d, want 3", conn.calls)
	}
}

func TestSupervisor_StationConnectedRecordsUpstream(t *testing.T) {
	s, _ := newTestSupervisor(t, 3)
	s.HandleEvent(apsta.StationStarted{})

	res := s.HandleEvent(apsta.StationConnected{Upstream: "Device2"})

	if res.Changed() {
		t.Errorf("association changed state: %s -> %s", res.From, res.To)
	}
	if s.Status().Upstream != "Device2" {
		t.Errorf("upstream = %q", s.Status().Upstream)
	}
}

func TestSupervisor_PeerEventsIgnored(t *testing.T) {
	s, conn := newTestSupervisor(t, 3)
	peer := apsta.PeerID{MAC: "AA:BB", AID: 1}

	res := feed(s, apsta.APPeerJoined{Peer: peer}, apsta.APPeerLeft{Peer: peer})

	if res.Changed() || conn.calls != 0 {
		t.Errorf("peer events touched station state: %+v", res)
	}
}

func TestSupervisor_TransitionHookAndClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)

	var results []Result
	s, _ := newTestSupervisor(t, 3,
		WithClock(clk),
		OnTransition(func(r Result) { results = append(results, r) }),
	)

	clk.Advance(5 * time.Second)
	feed(s, apsta.StationStarted{}, gotIP("10.0.0.5"))

	if len(results) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(results))
	}
	if results[1].To != StateConnected {
		t.Errorf("second hook result = %s", results[1].To)
	}
	if got := s.Status().Since; !got.Equal(start.Add(5 * time.Second)) {
		t.Errorf("since = %s, want %s", got, start.Add(5*time.Second))
	}
}

// Property: for random event sequences, retries never exceed the limit, and
// the state is failed exactly when consecutive disconnects spent the budget.
func TestSupervisor_RetryBoundProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for maxRetries := 0; maxRetries <= 4; maxRetries++ {
		for round := 0; round < 200; round++ {
			s, _ := newTestSupervisor(t, maxRetries)
			s.HandleEvent(apsta.StationStarted{})
			consecutive := 0

			for step := 0; step < 20; step++ {
				var ev apsta.Event
				if rng.Intn(4) == 0 {
					ev = gotIP("10.0.0.5")
					consecutive = 0
				} else {
					ev = disc("x")
					consecutive++
				}
				res := s.HandleEvent(ev)

				if res.Retries > maxRetries {
					t.Fatalf("max %d: retries %d exceed limit", maxRetries, res.Retries)
				}
				wantFailed := consecutive > 0 && consecutive >= max(maxRetries, 1)
				if (res.To == StateFailed) != wantFailed {
					t.Fatalf("max %d: after %d consecutive disconnects state = %s", maxRetries, consecutive, res.To)
				}
				if res.To == StateFailed && res.Retries != maxRetries {
					t.Fatalf("max %d: failed with retries %d", maxRetries, res.Retries)
				}
			}
		}
	}
}

func TestSupervisor_ConcurrentReaders(t *testing.T) {
	s, _ := newTestSupervisor(t, 3)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					st := s.Status()
					if st.State == "connected" && !st.HasAddress() {
						t.Error("connected snapshot without address")
						return
					}
				}
			}
		}()
	}

	s.HandleEvent(apsta.StationStarted{})
	for i := 0; i < 100; i++ {
		s.HandleEvent(gotIP("10.0.0.5"))
		s.HandleEvent(disc("x"))
	}
	close(stop)
	wg.Wait()
}

func TestStateTransitionGuard(t *testing.T) {
	if got := StateIdle.Transition(StateConnecting); got != StateConnecting {
		t.Errorf("idle -> connecting = %s", got)
	}
	if got := StateFailed.Transition(StateConnected); got != StateConnected {
		t.Errorf("failed -> connected = %s", got)
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateConnected:  "connected",
		StateRetrying:   "retrying",
		StateFailed:     "failed",
		State(0):        "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
