package task

import (
	"context"
	"sync"
	"testing"
)

func newTask(t *testing.T, id string, kind Kind, params Params) *Task {
	t.Helper()
	tk, err := New(context.Background(), Descriptor{UID: id, Type: string(kind), Data: params})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestNew_RequiresUID(t *testing.T) {
	if _, err := New(context.Background(), Descriptor{Type: "system"}); err == nil {
		t.Fatal("expected error for descriptor without uid")
	}
}

func TestNew_NilParams(t *testing.T) {
	tk := newTask(t, "a", KindAbort, nil)
	if tk.Params() == nil {
		t.Fatal("Params should never be nil")
	}
	if _, ok := tk.Params().String("anything"); ok {
		t.Error("missing key reported present")
	}
}

func TestTask_CompleteOnce(t *testing.T) {
	tk := newTask(t, "t1", KindSystem, nil)

	if !tk.Complete("first", true) {
		t.Fatal("first Complete should win")
	}
	if tk.Complete("second", false) {
		t.Error("second Complete should be ignored")
	}

	res := tk.Result()
	if res.UID != "t1" || res.Result != "first" || !res.Successful {
		t.Errorf("result = %+v", res)
	}
	select {
	case <-tk.Done():
	default:
		t.Error("Done should be closed after Complete")
	}
}

func TestTask_CompleteConcurrent(t *testing.T) {
	tk := newTask(t, "t1", KindSystem, nil)
	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- tk.Complete("x", true)
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	if n != 1 {
		t.Errorf("%d callers won Complete, want exactly 1", n)
	}
}

func TestTask_RequestCancel(t *testing.T) {
	tk := newTask(t, "t1", KindTunnel, nil)
	if tk.CancelRequested() {
		t.Fatal("fresh task should not be cancelled")
	}
	tk.RequestCancel()
	if !tk.CancelRequested() {
		t.Error("flag not set")
	}
	select {
	case <-tk.Context().Done():
	default:
		t.Error("context not cancelled")
	}
}

func TestTask_SessionCancelReachesTask(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tk, _ := New(parent, Descriptor{UID: "t1", Type: "bridge"})
	cancel()
	select {
	case <-tk.Context().Done():
	default:
		t.Fatal("session cancel should reach task context")
	}
	if tk.CancelRequested() {
		t.Error("session abort must not set the per-task flag")
	}
}

func TestKind_Known(t *testing.T) {
	for _, k := range Kinds {
		if !k.Known() {
			t.Errorf("%q should be known", k)
		}
	}
	if Kind("format-disk").Known() {
		t.Error("unknown kind reported known")
	}
}

func TestParams_Int(t *testing.T) {
	p := Params{
		"json":   float64(8080),
		"frac":   1.5,
		"cbor":   uint64(443),
		"neg":    int64(-3),
		"text":   " 22 ",
		"bad":    "abc",
		"huge":   float64(1 << 40),
		"nested": map[string]any{},
	}
	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"json", 8080, true},
		{"frac", 0, false},
		{"cbor", 443, true},
		{"neg", -3, true},
		{"text", 22, true},
		{"bad", 0, false},
		{"huge", 0, false},
		{"nested", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := p.Int(tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Int(%q) = (%d, %v), want (%d, %v)", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParams_String(t *testing.T) {
	p := Params{"cmd": "echo hi", "port": float64(8080), "n": uint64(7), "nil": nil}
	if s, ok := p.String("cmd"); !ok || s != "echo hi" {
		t.Errorf("cmd = %q %v", s, ok)
	}
	if s, _ := p.String("port"); s != "8080" {
		t.Errorf("port = %q", s)
	}
	if s, _ := p.String("n"); s != "7" {
		t.Errorf("n = %q", s)
	}
	if _, ok := p.String("nil"); ok {
		t.Error("nil value should read as missing")
	}
}
