// Package client talks to a running controller daemon over its local
// HTTP API. The CLI subcommands use it; nothing here touches hardware.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/art-defcon/solar-controller/internal/calibrate"
	"github.com/art-defcon/solar-controller/internal/web"
)

// ErrDaemonNotRunning is returned when nothing is listening on the
// daemon address.
var ErrDaemonNotRunning = errors.New(`daemon not running (start it with "solar-controller run")`)

// Client is a handle on the daemon API.
type Client struct {
	addr       string
	httpClient *http.Client
}

// NewClient builds a client for the daemon API at addr. A bare ":8011"
// is rewritten to localhost.
func NewClient(addr string) *Client {
	hostport := addr
	if strings.HasPrefix(hostport, ":") {
		hostport = "127.0.0.1" + hostport
	}
	d := &net.Dialer{Timeout: 5 * time.Second}
	return &Client{
		addr: hostport,
		httpClient: &http.Client{
			// No overall timeout: /api/calibrate holds the request
			// open while the daemon samples.
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn, err := d.DialContext(ctx, network, address)
					if err != nil {
						if errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrDaemonNotRunning
						}
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// Send issues one request and returns the body. Non-2xx responses
// become errors carrying the body text.
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"addr":   c.addr,
	}).Debug("sending request")

	url := "http://" + c.addr + path

	var resp *http.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = c.httpClient.Get(url)
	case http.MethodPost:
		resp, err = c.httpClient.Post(url, "application/json", strings.NewReader(data))
	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}
	if err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			return "", ErrDaemonNotRunning
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	body := string(b)

	logrus.WithFields(logrus.Fields{
		"code": resp.StatusCode,
		"body": body,
	}).Debug("got response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}

	return body, nil
}

// Get is a method for sending a GET request to the daemon.
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Post is a method for sending a POST request to the daemon.
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

// Status fetches the full daemon status.
func (c *Client) Status() (*web.StatusResponse, error) {
	ret, err := c.Get("/api/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st web.StatusResponse
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// GetAdjusting reports whether tracking is enabled.
func (c *Client) GetAdjusting() (bool, error) {
	ret, err := c.Get("/api/adjust")
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to get tracking mode")
	}

	var ar web.AdjustResponse
	if err := json.Unmarshal([]byte(ret), &ar); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to unmarshal tracking mode")
	}
	return ar.Adjusting, nil
}

// SetAdjusting turns tracking on or off and returns the new state.
func (c *Client) SetAdjusting(enabled bool) (bool, error) {
	body := fmt.Sprintf(`{"adjusting": %s}`, strconv.FormatBool(enabled))
	ret, err := c.Post("/api/adjust", body)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to set tracking mode")
	}

	var ar web.AdjustResponse
	if err := json.Unmarshal([]byte(ret), &ar); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to unmarshal tracking mode")
	}
	return ar.Adjusting, nil
}

// Calibrate runs a sampling pass on the daemon and returns the
// suggested factors. samples <= 0 uses the daemon default.
func (c *Client) Calibrate(samples int) (*calibrate.Result, error) {
	body := "{}"
	if samples > 0 {
		body = fmt.Sprintf(`{"samples": %d}`, samples)
	}
	ret, err := c.Post("/api/calibrate", body)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to calibrate")
	}

	var res calibrate.Result
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration result")
	}
	return &res, nil
}

// Logs fetches the trace tail as plain text.
func (c *Client) Logs(tail int) (string, error) {
	path := "/api/logs?format=text"
	if tail > 0 {
		path += "&tail=" + strconv.Itoa(tail)
	}
	ret, err := c.Get(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get logs")
	}
	return ret, nil
}
