package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/art-defcon/solar-controller/internal/calibrate"
	"github.com/art-defcon/solar-controller/internal/config"
	"github.com/art-defcon/solar-controller/internal/tracker"
)

type fakeController struct {
	mu         sync.Mutex
	adjusting  bool
	snap       tracker.Snapshot
	calRes     calibrate.Result
	calErr     error
	calSamples int
}

func (f *fakeController) Snapshot() tracker.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Adjusting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adjusting
}

func (f *fakeController) SetAdjusting(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjusting = v
}

func (f *fakeController) Calibrate(_ context.Context, samples int) (calibrate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calSamples = samples
	return f.calRes, f.calErr
}

func defaultEcho(t *testing.T) *EchoStore {
	t.Helper()
	var cfg config.Config
	cfg.Tracker.AdjustOnStart = true
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	return NewEchoStore(EchoFromConfig(cfg))
}

func TestAPIStatus(t *testing.T) {
	ctl := &fakeController{snap: tracker.Snapshot{
		Adjusting:    true,
		Ticks:        7,
		LeftSample:   5,
		RightSample:  1,
		Diff:         4,
		RelayCommand: "right_on",
	}}

	ts := httptest.NewServer(Handler(ctl, defaultEcho(t), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "solar-controller" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Tracker.RelayCommand != "right_on" || snap.Tracker.Ticks != 7 {
		t.Fatalf("tracker=%+v", snap.Tracker)
	}
	if snap.Config.Interval != "1s" {
		t.Fatalf("config interval=%q", snap.Config.Interval)
	}
	if snap.Config.Pins["left_relay"] != 17 {
		t.Fatalf("pins=%v", snap.Config.Pins)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(&fakeController{}, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d want 405", resp.StatusCode)
	}
}

func TestAPIAdjust(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	get := func() AdjustResponse {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/adjust")
		if err != nil {
			t.Fatalf("get adjust: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status code=%d", resp.StatusCode)
		}
		var out AdjustResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode json: %v", err)
		}
		return out
	}

	if got := get(); got.Adjusting {
		t.Fatalf("adjusting=true before enable")
	}

	resp, err := http.Post(ts.URL+"/api/adjust", "application/json", strings.NewReader(`{"adjusting": true}`))
	if err != nil {
		t.Fatalf("post adjust: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out AdjustResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !out.Adjusting || !ctl.Adjusting() {
		t.Fatalf("adjusting resp=%v ctl=%v want true/true", out.Adjusting, ctl.Adjusting())
	}
	if got := get(); !got.Adjusting {
		t.Fatalf("adjusting=false after enable")
	}
}

func TestAPIAdjust_BadRequests(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	cases := []struct {
		name string
		body string
	}{
		{name: "UnknownKey", body: `{"adjusting": true, "bogus": 1}`},
		{name: "MissingKey", body: `{}`},
		{name: "TrailingData", body: `{"adjusting": true}{}`},
		{name: "WrongType", body: `{"adjusting": "yes"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/adjust", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post adjust: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status code=%d want 400", resp.StatusCode)
			}
		})
	}
	if ctl.Adjusting() {
		t.Fatalf("bad requests must not flip the mode")
	}
}

func TestAPICalibrate(t *testing.T) {
	ctl := &fakeController{calRes: calibrate.Result{
		Samples:  8,
		Target:   2.5,
		LeftCal:  1.25,
		RightCal: 0.83,
	}}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/calibrate", "application/json", bytes.NewReader([]byte(`{"samples": 8}`)))
	if err != nil {
		t.Fatalf("post calibrate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var res calibrate.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if res.LeftCal != 1.25 || res.RightCal != 0.83 {
		t.Fatalf("result=%+v", res)
	}
	if ctl.calSamples != 8 {
		t.Fatalf("samples=%d want 8", ctl.calSamples)
	}
}

func TestAPICalibrate_EmptyBodyUsesDefaultSamples(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/calibrate", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post calibrate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ctl.calSamples != 0 {
		t.Fatalf("samples=%d want 0 (library default)", ctl.calSamples)
	}
}

func TestAPICalibrate_SamplesOutOfRange(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	for _, body := range []string{`{"samples": 1}`, `{"samples": 201}`} {
		resp, err := http.Post(ts.URL+"/api/calibrate", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post calibrate: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body=%s status code=%d want 400", body, resp.StatusCode)
		}
	}
}

func TestRootPage(t *testing.T) {
	ctl := &fakeController{snap: tracker.Snapshot{RelayCommand: "both_off"}}
	ts := httptest.NewServer(Handler(ctl, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "Solar Controller") {
		t.Fatalf("unexpected page: %s", body)
	}
	if !strings.Contains(string(body), "both_off") {
		t.Fatalf("expected snapshot in page: %s", body)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	ts := httptest.NewServer(Handler(&fakeController{}, NewEchoStore(ConfigEcho{}), SettingsStore{}, nil, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d want 404", resp.StatusCode)
	}
}

func TestAPIStatus_EchoFollowsStore(t *testing.T) {
	store := NewEchoStore(ConfigEcho{Interval: "1s"})
	ts := httptest.NewServer(Handler(&fakeController{}, store, SettingsStore{}, nil, nil))
	defer ts.Close()

	fetch := func() StatusResponse {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/status")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		defer resp.Body.Close()
		var st StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode json: %v", err)
		}
		return st
	}

	if got := fetch().Config.Interval; got != "1s" {
		t.Fatalf("interval=%q want 1s", got)
	}

	// A settings apply swaps the echo; status must follow.
	store.Set(ConfigEcho{Interval: "250ms"})
	if got := fetch().Config.Interval; got != "250ms" {
		t.Fatalf("interval=%q want 250ms", got)
	}
}
