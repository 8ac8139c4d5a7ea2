package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"striker/internal/clock"
	serrors "striker/internal/errors"
	"striker/internal/executor"
	"striker/internal/metrics"
	"striker/internal/session"
	"striker/internal/sysinfo"
	"striker/internal/task"
	"striker/internal/transport"
	"striker/util"
)

// ── fake server ──────────────────────────────────────────────────────

// server is a minimal command server.  Each GET on the tasks endpoint
// hands out the next queued batch, then empty batches.
type server struct {
	srv *httptest.Server

	mu         sync.Mutex
	config     string
	initStatus int
	postStatus int
	checkIns   []map[string]any
	pings      []string
	fetches    int
	queue      [][]task.Descriptor
	submitted  []task.Result
	postFails  int

	// now stamps fetches and accepted submissions when set.
	now         func() time.Time
	fetchIDs    []string
	submitIDs   []string
	lastFetch   time.Time
	submittedAt map[string]time.Time
}

func newServer(t *testing.T, config string) *server {
	t.Helper()
	s := &server{
		config:      config,
		initStatus:  http.StatusOK,
		postStatus:  http.StatusOK,
		submittedAt: make(map[string]time.Time),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/init", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		s.mu.Lock()
		defer s.mu.Unlock()
		s.checkIns = append(s.checkIns, body)
		if s.initStatus != http.StatusOK {
			w.WriteHeader(s.initStatus)
			return
		}
		io.WriteString(w, s.config) //nolint:errcheck
	})
	mux.HandleFunc("GET /agent/ping/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.pings = append(s.pings, r.PathValue("id"))
		s.mu.Unlock()
		io.WriteString(w, "{}") //nolint:errcheck
	})
	mux.HandleFunc("GET /agent/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fetches++
		s.fetchIDs = append(s.fetchIDs, r.PathValue("id"))
		batch := []task.Descriptor{}
		if len(s.queue) > 0 {
			batch, s.queue = s.queue[0], s.queue[1:]
			if s.now != nil {
				s.lastFetch = s.now()
			}
		}
		json.NewEncoder(w).Encode(batch) //nolint:errcheck
	})
	mux.HandleFunc("POST /agent/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var batch []task.Result
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("bad result batch: %v", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.submitIDs = append(s.submitIDs, r.PathValue("id"))
		if s.postStatus != http.StatusOK {
			s.postFails++
			w.WriteHeader(s.postStatus)
			return
		}
		s.submitted = append(s.submitted, batch...)
		if s.now != nil {
			for _, res := range batch {
				s.submittedAt[res.UID] = s.now()
			}
		}
		io.WriteString(w, "{}") //nolint:errcheck
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *server) URL() string { return s.srv.URL }

func (s *server) enqueue(batch ...task.Descriptor) {
	s.mu.Lock()
	s.queue = append(s.queue, batch)
	s.mu.Unlock()
}

func (s *server) result(uid string) (task.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.submitted {
		if r.UID == uid {
			return r, true
		}
	}
	return task.Result{}, false
}

func (s *server) count(f func(*server) int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s)
}

// ── harness ──────────────────────────────────────────────────────────

type runnerFunc func(*session.Session, *task.Task)

func (f runnerFunc) Execute(sess *session.Session, t *task.Task) { f(sess, t) }

// completeNow finishes every task with a fixed result.
var completeNow = runnerFunc(func(_ *session.Session, t *task.Task) {
	t.Complete("done", true)
})

type rig struct {
	eng     *Engine
	sess    *session.Session
	addrs   *session.AddressList
	clock   *clock.Fake
	metrics *metrics.Collector
	errc    chan error
	cancel  context.CancelFunc
}

func newRig(t *testing.T, base string, runner Runner, mutate ...func(*Config)) *rig {
	t.Helper()
	logger := util.NewLogger(0)
	r := &rig{
		sess: session.New(context.Background(), session.Options{
			AuthKey:  "secret",
			Delay:    2,
			WriteDir: t.TempDir(),
			Logger:   logger,
		}),
		addrs:   session.NewAddressList(base),
		clock:   clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		metrics: metrics.New(),
	}
	tr := transport.NewHTTP(transport.HTTPConfig{Base: base, Timeout: 5 * time.Second, Logger: logger})
	if runner == nil {
		runner = executor.New(executor.Options{Transport: tr, Metrics: r.metrics, Logger: logger})
	}
	cfg := Config{
		Session:   r.sess,
		Addresses: r.addrs,
		Transport: tr,
		Executor:  runner,
		Metrics:   r.metrics,
		Logger:    logger,
		Clock:     r.clock,
		SysInfo: func() sysinfo.Info {
			return sysinfo.Info{User: "tester", Host: "box", PID: 42}
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r.sess = cfg.Session
	r.eng = New(cfg)
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.errc = make(chan error, 1)
	go func() { r.errc <- r.eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errc:
		case <-time.After(10 * time.Second):
		}
	})
}

// stop cancels the run and returns its error.
func (r *rig) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	return r.wait(t)
}

func (r *rig) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errc:
		r.errc <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const freshConfig = `{"uid":"abc123","delay":5,"redirectors":[]}`

// ── tests ────────────────────────────────────────────────────────────

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateContacting, "contacting"},
		{StateFreshConfig, "fresh-config"},
		{StateResumed, "resumed"},
		{StateActive, "active"},
		{StateReconnecting, "reconnecting"},
		{StateTerminated, "terminated"},
		{State(99), "State(99)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestEngine_FreshCheckIn(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.enqueue(task.Descriptor{UID: "t1", Type: "system"})
	r := newRig(t, srv.URL(), completeNow)
	r.start(t)

	waitFor(t, "result t1", func() bool {
		_, ok := srv.result("t1")
		return ok
	})
	if err := r.stop(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := r.sess.ID(); got != "abc123" {
		t.Errorf("ID = %q, want abc123", got)
	}
	if got := r.sess.Delay(); got != 5 {
		t.Errorf("Delay = %d, want 5", got)
	}
	if r.eng.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", r.eng.State())
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.checkIns) != 1 {
		t.Fatalf("check-ins = %d, want 1", len(srv.checkIns))
	}
	body := srv.checkIns[0]
	if body["key"] != "secret" || body["delay"] != float64(2) {
		t.Errorf("check-in key/delay = %v/%v", body["key"], body["delay"])
	}
	if body["user"] != "tester" || body["host"] != "box" || body["pid"] != float64(42) {
		t.Errorf("check-in sysinfo = %v", body)
	}
	if len(srv.pings) != 0 {
		t.Errorf("fresh session sent %d pings", len(srv.pings))
	}
	for _, ids := range [][]string{srv.fetchIDs, srv.submitIDs} {
		if len(ids) == 0 {
			t.Fatal("tasks endpoint never reached")
		}
		for _, id := range ids {
			if id != "abc123" {
				t.Errorf("tasks endpoint id = %q, want abc123", id)
			}
		}
	}
}

func TestEngine_ResultSubmittedOnNextTick(t *testing.T) {
	srv := newServer(t, `{"uid":"abc123","delay":10,"redirectors":[]}`)
	srv.enqueue(task.Descriptor{UID: "t1", Type: "system"})
	r := newRig(t, srv.URL(), completeNow)
	r.clock.Yield = 5 * time.Millisecond
	srv.now = r.clock.Now
	r.start(t)

	waitFor(t, "result t1", func() bool {
		_, ok := srv.result("t1")
		return ok
	})
	r.stop(t) //nolint:errcheck

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if r.sess.Delay() != 10 {
		t.Fatalf("Delay = %d, want 10", r.sess.Delay())
	}
	if lag := srv.submittedAt["t1"].Sub(srv.lastFetch); lag > 3*tick {
		t.Errorf("result submitted %s after fetch, want within a few ticks", lag)
	}
}

func TestEngine_ResumeWithExistingID(t *testing.T) {
	srv := newServer(t, freshConfig)
	r := newRig(t, srv.URL(), completeNow)
	if err := r.sess.SetID("known"); err != nil {
		t.Fatal(err)
	}
	r.start(t)

	waitFor(t, "task fetch", func() bool {
		return srv.count(func(s *server) int { return s.fetches }) > 0
	})
	r.stop(t) //nolint:errcheck

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.checkIns) != 0 {
		t.Errorf("resume sent %d fresh check-ins", len(srv.checkIns))
	}
	if len(srv.pings) == 0 || srv.pings[0] != "known" {
		t.Errorf("pings = %v, want [known]", srv.pings)
	}
}

func TestEngine_RedirectorsReplaceAddresses(t *testing.T) {
	srv := newServer(t, `{"uid":"abc123","delay":1,"redirectors":["http://r1.example/", "", "http://r2.example"]}`)
	r := newRig(t, srv.URL(), completeNow)
	r.start(t)

	waitFor(t, "task fetch", func() bool {
		return srv.count(func(s *server) int { return s.fetches }) > 0
	})
	r.stop(t) //nolint:errcheck

	want := []string{srv.URL(), "http://r1.example", "http://r2.example"}
	got := r.addrs.All()
	if len(got) != len(want) {
		t.Fatalf("addresses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("addresses[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if r.addrs.Current() != srv.URL() {
		t.Errorf("current = %q, want %q", r.addrs.Current(), srv.URL())
	}
}

func TestEngine_FatalConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		check  func(error) bool
	}{
		{"empty uid", `{"uid":"","delay":5}`, func(err error) bool {
			return errors.Is(err, serrors.ErrIdentityMissing)
		}},
		{"missing uid", `{"delay":5}`, func(err error) bool {
			return errors.Is(err, serrors.ErrIdentityMissing)
		}},
		{"malformed", `not json`, func(err error) bool {
			var pe *serrors.ProtocolError
			return errors.As(err, &pe) && pe.Op == "config"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.config)
			r := newRig(t, srv.URL(), completeNow)
			r.start(t)

			err := r.wait(t)
			if err == nil || !tt.check(err) {
				t.Fatalf("Run = %v", err)
			}
			if !serrors.IsFatal(err) {
				t.Errorf("IsFatal(%v) = false", err)
			}
			if n := srv.count(func(s *server) int { return s.fetches }); n != 0 {
				t.Errorf("fetched %d times without an identity", n)
			}
		})
	}
}

func TestEngine_ContactRetryRotatesAndSleeps(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.initStatus = http.StatusInternalServerError
	r := newRig(t, srv.URL(), completeNow)
	r.start(t)

	waitFor(t, "two failed check-ins", func() bool {
		return srv.count(func(s *server) int { return len(s.checkIns) }) >= 2
	})
	srv.mu.Lock()
	srv.initStatus = http.StatusOK
	srv.mu.Unlock()

	waitFor(t, "identity", func() bool { return r.sess.ID() == "abc123" })
	r.stop(t) //nolint:errcheck

	// Each failure waits the full 2s delay in 1s slices.
	if got := r.clock.Slept(); got < 4*time.Second {
		t.Errorf("slept %s, want at least 4s", got)
	}
	if r.metrics.ContactFailures() < 2 {
		t.Errorf("ContactFailures = %d, want >= 2", r.metrics.ContactFailures())
	}
}

func TestEngine_EchoTaskResultSubmitted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	srv := newServer(t, freshConfig)
	srv.enqueue(task.Descriptor{UID: "t1", Type: "system", Data: task.Params{"cmd": "echo hi"}})
	r := newRig(t, srv.URL(), nil)
	r.start(t)

	waitFor(t, "result t1", func() bool {
		_, ok := srv.result("t1")
		return ok
	})
	r.stop(t) //nolint:errcheck

	res, _ := srv.result("t1")
	if res.Result != "hi\n" || !res.Successful {
		t.Errorf("result = %+v, want hi\\n successful", res)
	}
	if p, c := r.sess.Tasks.Len(); p != 0 || c != 0 {
		t.Errorf("registry not empty: pending=%d completed=%d", p, c)
	}
}

func TestEngine_SubmissionFailuresFailOver(t *testing.T) {
	backup := newServer(t, freshConfig)
	primary := newServer(t, `{"uid":"abc123","delay":1,"redirectors":["`+backup.URL()+`"]}`)
	primary.postStatus = http.StatusInternalServerError
	primary.enqueue(task.Descriptor{UID: "t1", Type: "system", Data: task.Params{"cmd": "true"}})

	r := newRig(t, primary.URL(), completeNow)
	r.start(t)

	waitFor(t, "resume on backup", func() bool {
		return backup.count(func(s *server) int { return len(s.pings) }) > 0
	})
	r.stop(t) //nolint:errcheck

	if n := primary.count(func(s *server) int { return s.postFails }); n != DefaultMaxContactFails {
		t.Errorf("submission attempts = %d, want %d", n, DefaultMaxContactFails)
	}
	if _, ok := backup.result("t1"); ok {
		t.Error("discarded result was submitted after failover")
	}
	if r.metrics.Failovers() != 1 {
		t.Errorf("Failovers = %d, want 1", r.metrics.Failovers())
	}
	if r.metrics.TasksDiscardedTotal() < 1 {
		t.Errorf("TasksDiscarded = %d, want >= 1", r.metrics.TasksDiscardedTotal())
	}
	backup.mu.Lock()
	defer backup.mu.Unlock()
	if backup.pings[0] != "abc123" {
		t.Errorf("backup ping id = %q, want abc123", backup.pings[0])
	}
	if len(backup.checkIns) != 0 {
		t.Error("failover re-registered instead of resuming")
	}
}

func TestEngine_FailedSubmissionRetriedUnchanged(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.postStatus = http.StatusServiceUnavailable
	srv.enqueue(task.Descriptor{UID: "t1", Type: "system"})
	r := newRig(t, srv.URL(), completeNow, func(c *Config) { c.MaxContactFails = 100 })
	r.start(t)

	waitFor(t, "two failed submissions", func() bool {
		return srv.count(func(s *server) int { return s.postFails }) >= 2
	})
	srv.mu.Lock()
	srv.postStatus = http.StatusOK
	srv.mu.Unlock()

	waitFor(t, "result t1", func() bool {
		_, ok := srv.result("t1")
		return ok
	})
	r.stop(t) //nolint:errcheck

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.submitted) != 1 {
		t.Errorf("submitted %d results, want exactly 1", len(srv.submitted))
	}
}

func TestEngine_QueueFullRejects(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.enqueue(
		task.Descriptor{UID: "t1", Type: "system"},
		task.Descriptor{UID: "t2", Type: "system"},
	)
	block := runnerFunc(func(_ *session.Session, t *task.Task) {
		<-t.Context().Done()
		t.Complete("stopped", false)
	})
	sess := session.New(context.Background(), session.Options{AuthKey: "secret", Delay: 1, Capacity: 1})
	r := newRig(t, srv.URL(), block, func(c *Config) {
		c.Session = sess
		c.GracePeriod = time.Second
	})
	r.clock.Yield = 5 * time.Millisecond
	r.start(t)

	waitFor(t, "rejection result", func() bool {
		_, ok := srv.result("t2")
		return ok
	})
	res, _ := srv.result("t2")
	if res.Result != "Task queue full!" || res.Successful {
		t.Errorf("t2 = %+v", res)
	}
	if _, ok := srv.result("t1"); ok {
		t.Error("running task reported before it finished")
	}
	if r.metrics.TasksRejected() != 1 {
		t.Errorf("TasksRejected = %d, want 1", r.metrics.TasksRejected())
	}

	// Termination cancels t1, which then reports in the final flush.
	r.stop(t) //nolint:errcheck
	if res, ok := srv.result("t1"); !ok || res.Result != "stopped" {
		t.Errorf("t1 after stop = %+v (%v)", res, ok)
	}
}

func TestEngine_AbortTaskFlushesAndStops(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.enqueue(task.Descriptor{UID: "bye", Type: "abort"})
	r := newRig(t, srv.URL(), nil)
	r.start(t)

	if err := r.wait(t); err != nil {
		t.Fatalf("Run = %v", err)
	}
	res, ok := srv.result("bye")
	if !ok {
		t.Fatal("abort result not submitted")
	}
	if res.Result != "Session aborted!" || !res.Successful {
		t.Errorf("abort result = %+v", res)
	}
	if n := srv.count(func(s *server) int { return s.fetches }); n != 1 {
		t.Errorf("fetches = %d, want 1 (no fetch after abort)", n)
	}
	if r.eng.State() != StateTerminated {
		t.Errorf("State = %s", r.eng.State())
	}
}

func TestEngine_MalformedBatchCountsAsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/init", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"uid":"abc123","delay":1}`) //nolint:errcheck
	})
	mux.HandleFunc("GET /agent/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"not":"a list"`) //nolint:errcheck
	})
	pings := make(chan string, 16)
	mux.HandleFunc("GET /agent/ping/{id}", func(w http.ResponseWriter, r *http.Request) {
		select {
		case pings <- r.PathValue("id"):
		default:
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newRig(t, srv.URL, completeNow)
	r.start(t)

	select {
	case id := <-pings:
		if id != "abc123" {
			t.Errorf("ping id = %q", id)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("malformed batches never triggered a failover")
	}
	r.stop(t) //nolint:errcheck
	if r.metrics.Failovers() < 1 {
		t.Errorf("Failovers = %d", r.metrics.Failovers())
	}
}

func TestEngine_AbortObservedDuringContactSleep(t *testing.T) {
	srv := newServer(t, freshConfig)
	srv.initStatus = http.StatusInternalServerError
	r := newRig(t, srv.URL(), completeNow)
	r.sess.SetDelay(3600)
	r.start(t)

	waitFor(t, "failed check-in", func() bool {
		return srv.count(func(s *server) int { return len(s.checkIns) }) > 0
	})
	r.sess.Abort()
	if err := r.wait(t); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if got := r.clock.Slept(); got >= 3600*time.Second {
		t.Errorf("slept %s without observing abort", got)
	}
}
