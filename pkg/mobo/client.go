// Package mobo talks to the management server running on a Galaxy
// motherboard. The server drives module power and credo retimer bring-up;
// the reset engine calls it around neighbor-board link resets.
package mobo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ServerVersion is the motherboard server's reported version. Servers
// without an /about endpoint report 0.0.0 and get the legacy behavior.
type ServerVersion struct {
	Major, Minor, Patch int
}

func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Client issues authenticated requests to motherboard servers.
type Client struct {
	HTTPClient *http.Client
	Username   string
	Password   string

	// BaseURL maps a motherboard name to its server URL. Overridable so
	// tests can point at a local httptest server.
	BaseURL func(mobo string) string
}

// NewClient returns a client with the stock credentials and port.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Username:   "admin",
		Password:   "admin",
		BaseURL: func(mobo string) string {
			return fmt.Sprintf("http://%s:8000", mobo)
		},
	}
}

// RequestError is a server-side failure reported through the response body's
// "error" or "exception" field.
type RequestError struct {
	Mobo    string
	Command string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("mobo %s: request %s returned %s", e.Mobo, e.Command, e.Message)
}

// Version fetches the server version, defaulting to 0.0.0 when the /about
// endpoint is missing or unreachable.
func (c *Client) Version(mobo string) ServerVersion {
	body, err := c.do(false, mobo, "about", nil, true)
	if err != nil {
		return ServerVersion{}
	}
	raw, _ := body["version"].(string)
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return ServerVersion{}
	}
	var v ServerVersion
	var errs [3]error
	v.Major, errs[0] = strconv.Atoi(parts[0])
	v.Minor, errs[1] = strconv.Atoi(parts[1])
	v.Patch, errs[2] = strconv.Atoi(parts[2])
	for _, err := range errs {
		if err != nil {
			return ServerVersion{}
		}
	}
	return v
}

// BootCredo boots the credo retimers on one motherboard. Port disabling is
// only honored by servers >= 1.3.2; on older servers the list is dropped
// and the caller is told through the returned warning string.
func (c *Client) BootCredo(mobo string, credoPorts, disabledPorts []string) (warning string, err error) {
	if len(credoPorts) == 0 {
		return "", nil
	}
	data := map[string]any{
		"groups":      nil,
		"credo":       true,
		"retimer_sel": credoPorts,
	}
	version := c.Version(mobo)
	if version.AtLeast(1, 3, 2) {
		data["disable_sel"] = disabledPorts
	} else if len(disabledPorts) > 0 {
		warning = fmt.Sprintf("port disable requires server 1.3.2 or above, ignoring for %s (server %s)", mobo, version)
	}
	_, err = c.do(true, mobo, "boot", data, true)
	return warning, err
}

// BootProgress is one boot status sample.
type BootProgress struct {
	Percent float64
	Step    string
}

// WaitForBoot polls boot progress until completion or timeout. Servers older
// than 0.3.0 do not expose progress and return immediately. The progress
// callback is optional.
func (c *Client) WaitForBoot(mobo string, timeout time.Duration, progress func(BootProgress)) error {
	version := c.Version(mobo)
	if !version.AtLeast(0, 3, 0) {
		return nil
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("mobo %s: boot timeout after %s, power cycle the galaxy and try again", mobo, timeout)
		}
		body, err := c.do(false, mobo, "boot/progress", nil, true)
		if err != nil {
			return err
		}
		pct, _ := body["boot_percent"].(float64)
		sample := BootProgress{Percent: pct}
		if version.AtLeast(1, 3, 2) {
			sample.Step, _ = body["step"].(string)
		}
		if progress != nil {
			progress(sample)
		}
		if pct >= 100.0 {
			return nil
		}
		time.Sleep(time.Second)
	}
}

// ShutdownModules powers down the chip modules. The server answers shutdown
// requests best-effort, so response error fields are not treated as fatal.
func (c *Client) ShutdownModules(mobo string) error {
	_, err := c.do(true, mobo, "shutdown/modules", map[string]any{"groups": nil}, false)
	return err
}

// BootModules powers the chip modules back up.
func (c *Client) BootModules(mobo string) error {
	_, err := c.do(true, mobo, "boot/modules", map[string]any{"groups": nil}, true)
	return err
}

func (c *Client) do(post bool, mobo, command string, data map[string]any, checkError bool) (map[string]any, error) {
	url := c.BaseURL(mobo) + "/" + command

	var req *http.Request
	var err error
	if post {
		payload, merr := json.Marshal(data)
		if merr != nil {
			return nil, fmt.Errorf("mobo %s: encode %s payload: %w", mobo, command, merr)
		}
		req, err = http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequest(http.MethodGet, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("mobo %s: build %s request: %w", mobo, command, err)
	}
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mobo %s: request %s: %w", mobo, command, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mobo %s: read %s response: %w", mobo, command, err)
	}

	// Successful shutdown/modules and boot/modules answer with an empty body.
	body := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("mobo %s: request %s answered non-json body %q", mobo, command, raw)
		}
	}

	if checkError {
		if msg, ok := body["error"].(string); ok && msg != "" {
			return body, &RequestError{Mobo: mobo, Command: command, Message: "error " + msg}
		}
		if msg, ok := body["exception"].(string); ok && msg != "" {
			return body, &RequestError{Mobo: mobo, Command: command, Message: "exception " + msg}
		}
	}
	if resp.StatusCode >= 400 {
		return body, &RequestError{Mobo: mobo, Command: command, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return body, nil
}
