package bitapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrWindowNotFound means the vendor has no window with the given id.
var ErrWindowNotFound = errors.New("window not found")

// Vendor is the window-manager surface the lifecycle code depends on.
type Vendor interface {
	ListWindows(ctx context.Context) ([]WindowInfo, error)
	GetWindow(ctx context.Context, id string) (WindowInfo, error)
	CreateWindow(ctx context.Context, template WindowInfo, spec CreateSpec) (string, error)
	DeleteWindow(ctx context.Context, id string) error
	OpenWindow(ctx context.Context, id string) (OpenResult, error)
	CloseWindow(ctx context.Context, id string) error
}

// Client talks to a local BitBrowser-compatible API. All endpoints take
// POST with a JSON body and answer with a {code, success, msg, data}
// envelope; code 0 or success true means ok.
type Client struct {
	baseURL  string
	listSize int
	client   *http.Client
}

func NewClient(baseURL string, listSize int) *Client {
	if listSize <= 0 {
		listSize = 1000
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		listSize: listSize,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return e.Code == 0 || e.Success
}

func (c *Client) post(ctx context.Context, path string, payload any) (envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return envelope{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return envelope{}, fmt.Errorf("vendor http status %d: %s", res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	if !env.ok() {
		msg := env.Msg
		if msg == "" {
			msg = "unknown vendor error"
		}
		return envelope{}, fmt.Errorf("vendor %s: %s", path, msg)
	}
	return env, nil
}

func (c *Client) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	env, err := c.post(ctx, "/browser/list", map[string]any{
		"page":     0,
		"pageSize": c.listSize,
	})
	if err != nil {
		return nil, err
	}

	// data is either a bare array or an object with a "list" field.
	var items []map[string]any
	if err := json.Unmarshal(env.Data, &items); err != nil {
		var wrapped struct {
			List []map[string]any `json:"list"`
		}
		if err := json.Unmarshal(env.Data, &wrapped); err != nil {
			return nil, fmt.Errorf("decode window list: %w", err)
		}
		items = wrapped.List
	}

	windows := make([]WindowInfo, 0, len(items))
	for _, raw := range items {
		windows = append(windows, windowFromRaw(raw))
	}
	return windows, nil
}

func (c *Client) GetWindow(ctx context.Context, id string) (WindowInfo, error) {
	windows, err := c.ListWindows(ctx)
	if err != nil {
		return WindowInfo{}, err
	}
	for _, w := range windows {
		if w.ID == id {
			return w, nil
		}
	}
	return WindowInfo{}, fmt.Errorf("window %s: %w", id, ErrWindowNotFound)
}

// CreateWindow clones the template's configuration under a fresh name,
// tags it with the account credentials and returns the new window id.
func (c *Client) CreateWindow(ctx context.Context, template WindowInfo, spec CreateSpec) (string, error) {
	payload := clonePayload(template, spec)

	name, err := c.nextWindowName(ctx, namePrefix(template.Name))
	if err != nil {
		return "", err
	}
	payload["name"] = name

	env, err := c.post(ctx, "/browser/update", payload)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		return "", fmt.Errorf("decode created window: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("vendor accepted create but returned no window id")
	}

	// Some vendor versions drop credential fields on create; patch them
	// back so the window stays matchable by email.
	patch := map[string]any{
		"ids":      []string{created.ID},
		"userName": spec.Email,
		"password": spec.Password,
	}
	if strings.TrimSpace(spec.SecretKey) != "" {
		patch["faSecretKey"] = strings.TrimSpace(spec.SecretKey)
	}
	if _, err := c.post(ctx, "/browser/update/partial", patch); err != nil {
		// Retry without the 2FA field, which older vendors reject.
		if _, ok := patch["faSecretKey"]; ok {
			delete(patch, "faSecretKey")
			_, _ = c.post(ctx, "/browser/update/partial", patch)
		}
	}

	return created.ID, nil
}

func (c *Client) DeleteWindow(ctx context.Context, id string) error {
	_, err := c.post(ctx, "/browser/delete", map[string]any{"id": id})
	return err
}

func (c *Client) OpenWindow(ctx context.Context, id string) (OpenResult, error) {
	env, err := c.post(ctx, "/browser/open", map[string]any{"id": id})
	if err != nil {
		return OpenResult{}, err
	}

	var data struct {
		Driver string `json:"driver"`
		HTTP   string `json:"http"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return OpenResult{}, fmt.Errorf("decode open result: %w", err)
	}
	if data.HTTP == "" {
		return OpenResult{}, errors.New("vendor opened window but returned no debug address")
	}
	return OpenResult{DriverPath: data.Driver, DebugAddress: data.HTTP}, nil
}

func (c *Client) CloseWindow(ctx context.Context, id string) error {
	_, err := c.post(ctx, "/browser/close", map[string]any{"id": id})
	return err
}

// templateExcluded are identity fields never copied from a template.
var templateExcluded = map[string]bool{
	"id":          true,
	"name":        true,
	"remark":      true,
	"userName":    true,
	"password":    true,
	"faSecretKey": true,
	"createTime":  true,
	"updateTime":  true,
}

func clonePayload(template WindowInfo, spec CreateSpec) map[string]any {
	payload := make(map[string]any, len(template.Raw)+12)
	for key, value := range template.Raw {
		if !templateExcluded[key] {
			payload[key] = value
		}
	}

	payload["remark"] = spec.credentialLine()
	payload["userName"] = spec.Email
	payload["password"] = spec.Password
	if strings.TrimSpace(spec.SecretKey) != "" {
		payload["faSecretKey"] = strings.TrimSpace(spec.SecretKey)
	}

	fp := map[string]any{}
	if template.Fingerprint != nil {
		for key, value := range template.Fingerprint {
			if key != "id" {
				fp[key] = value
			}
		}
	}
	payload["browserFingerPrint"] = fp

	if spec.DeviceClass == DeviceMobile {
		payload["ostype"] = "Android"
		payload["os"] = "Linux armv8l"
		fp["ostype"] = "Android"
		fp["os"] = "Linux armv8l"
		fp["screenWidth"] = 412
		fp["screenHeight"] = 915
		fp["devicePixelRatio"] = 2.625
	} else {
		payload["ostype"] = "PC"
		payload["os"] = "Win32"
	}

	if _, ok := payload["proxyType"]; !ok {
		payload["proxyType"] = "noproxy"
		payload["proxyMethod"] = 2
		payload["host"] = ""
		payload["port"] = ""
	}

	// New windows always get a fresh fingerprint, never the template's key.
	payload["randomFingerprint"] = true
	payload["isRandomFinger"] = true
	delete(payload, "randomKey")
	delete(payload, "randomKeyUser")

	return payload
}

func namePrefix(templateName string) string {
	name := strings.TrimSpace(templateName)
	if name == "" {
		return "auto"
	}
	if idx := strings.LastIndex(name, "_"); idx > 0 {
		return name[:idx]
	}
	return name
}

// nextWindowName picks "<prefix>_<n>" where n is one past the highest
// numeric suffix any existing window already uses under that prefix.
func (c *Client) nextWindowName(ctx context.Context, prefix string) (string, error) {
	windows, err := c.ListWindows(ctx)
	if err != nil {
		return "", err
	}

	max := 0
	for _, w := range windows {
		suffix, ok := strings.CutPrefix(w.Name, prefix+"_")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s_%d", prefix, max+1), nil
}
