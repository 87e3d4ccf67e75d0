package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/art-defcon/solar-controller/internal/calibrate"
	"github.com/art-defcon/solar-controller/internal/config"
	"github.com/art-defcon/solar-controller/internal/tracker"
)

// Controller is the part of the tracker the API drives.
// Implementations must be safe to call concurrently.
type Controller interface {
	Snapshot() tracker.Snapshot
	Adjusting() bool
	SetAdjusting(bool)
	Calibrate(ctx context.Context, samples int) (calibrate.Result, error)
}

// ConfigEcho is the static part of /api/status.
type ConfigEcho struct {
	Interval      string         `json:"interval"`
	ThresholdTurn float64        `json:"threshold_turn"`
	LeftCal       float64        `json:"left_cal"`
	RightCal      float64        `json:"right_cal"`
	GPIOBackend   string         `json:"gpio_backend"`
	ADCBackend    string         `json:"adc_backend"`
	Pins          map[string]int `json:"pins"`
}

func EchoFromConfig(cfg config.Config) ConfigEcho {
	return ConfigEcho{
		Interval:      cfg.Tracker.Interval.String(),
		ThresholdTurn: cfg.Tracker.ThresholdTurn,
		LeftCal:       cfg.Tracker.LeftCal,
		RightCal:      cfg.Tracker.RightCal,
		GPIOBackend:   cfg.GPIO.Backend,
		ADCBackend:    cfg.ADC.Backend,
		Pins: map[string]int{
			"left_relay":      cfg.GPIO.LeftRelayPin,
			"right_relay":     cfg.GPIO.RightRelayPin,
			"left_switch":     cfg.GPIO.LeftSwitchPin,
			"right_switch":    cfg.GPIO.RightSwitchPin,
			"left_indicator":  cfg.GPIO.LeftIndicatorPin,
			"right_indicator": cfg.GPIO.RightIndicatorPin,
		},
	}
}

// EchoStore holds the config echo shown by /api/status. The daemon
// replaces it when a new config is applied through /api/settings.
type EchoStore struct {
	v atomic.Value // ConfigEcho
}

func NewEchoStore(echo ConfigEcho) *EchoStore {
	s := &EchoStore{}
	s.v.Store(echo)
	return s
}

func (s *EchoStore) Get() ConfigEcho {
	if s == nil {
		return ConfigEcho{}
	}
	if e, ok := s.v.Load().(ConfigEcho); ok {
		return e
	}
	return ConfigEcho{}
}

func (s *EchoStore) Set(echo ConfigEcho) {
	if s == nil {
		return
	}
	s.v.Store(echo)
}

type StatusResponse struct {
	Service   string           `json:"service"`
	NowUTC    string           `json:"now_utc"`
	UptimeSec int64            `json:"uptime_sec"`
	Config    ConfigEcho       `json:"config"`
	Tracker   tracker.Snapshot `json:"tracker"`
	System    SystemSnapshot   `json:"system"`
}

type AdjustResponse struct {
	Adjusting bool `json:"adjusting"`
}

const (
	calibrateMinSamples = 2
	calibrateMaxSamples = 200
)

func Handler(ctl Controller, echo *EchoStore, settings SettingsStore, logs *LogBuffer, events *TickBroadcaster) http.Handler {
	mux := http.NewServeMux()
	start := time.Now().UTC()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl == nil {
			http.Error(w, "tracker unavailable", http.StatusServiceUnavailable)
			return
		}
		now := time.Now().UTC()
		resp := StatusResponse{
			Service:   "solar-controller",
			NowUTC:    now.Format(time.RFC3339Nano),
			UptimeSec: int64(now.Sub(start).Seconds()),
			Config:    echo.Get(),
			Tracker:   ctl.Snapshot(),
			System:    snapshotSystem(now),
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/api/adjust", func(w http.ResponseWriter, r *http.Request) {
		if ctl == nil {
			http.Error(w, "tracker unavailable", http.StatusServiceUnavailable)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, AdjustResponse{Adjusting: ctl.Adjusting()})
		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, 1<<16) // 64 KiB
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			var in struct {
				Adjusting *bool `json:"adjusting"`
			}
			if err := dec.Decode(&in); err != nil {
				http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
				return
			}
			if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
				http.Error(w, "invalid json: trailing data", http.StatusBadRequest)
				return
			}
			if in.Adjusting == nil {
				http.Error(w, "adjusting is required", http.StatusBadRequest)
				return
			}
			ctl.SetAdjusting(*in.Adjusting)
			writeJSON(w, AdjustResponse{Adjusting: ctl.Adjusting()})
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl == nil {
			http.Error(w, "tracker unavailable", http.StatusServiceUnavailable)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<16) // 64 KiB
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		var in struct {
			Samples *int `json:"samples"`
		}
		if err := dec.Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
			return
		}
		samples := 0
		if in.Samples != nil {
			if *in.Samples < calibrateMinSamples || *in.Samples > calibrateMaxSamples {
				http.Error(w, fmt.Sprintf("samples must be in [%d,%d]", calibrateMinSamples, calibrateMaxSamples), http.StatusBadRequest)
				return
			}
			samples = *in.Samples
		}

		// The sampling pass holds the request open.
		ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
		defer cancel()
		res, err := ctl.Calibrate(ctx, samples)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, res)
	})

	mux.Handle("/api/settings", settings.Handler())

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if events != nil {
		mux.Handle("/api/events", events.Handler())
	}

	mux.Handle("/api/about", AboutHandler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		var snap tracker.Snapshot
		if ctl != nil {
			snap = ctl.Snapshot()
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Solar Controller</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>Solar Controller</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>, <a href=\"/api/about\">/api/about</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>adjusting=%v\nrelay_command=%s\nleft=%.2f right=%.2f diff=%.2f\nlast_line=%s</pre>",
			snap.Adjusting, snap.RelayCommand, snap.LeftSample, snap.RightSample, snap.Diff, snap.LastLine,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, ctl Controller, echo *EchoStore, settings SettingsStore, logs *LogBuffer, events *TickBroadcaster) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(ctl, echo, settings, logs, events),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No write timeout: /api/events streams and /api/calibrate holds
		// the response open while it samples.
		WriteTimeout:   0,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
