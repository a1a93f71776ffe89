// internal/app/entitlement/getcourse/client.go
package getcourse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GetCourse serves export requests asynchronously: the first call returns
// an export id, and the export payload becomes available after a fixed
// wait. Both lookup methods follow that request/wait/fetch shape.

// Config holds the GetCourse API settings. Field paths and names are
// configurable because GetCourse account locales change the export field
// labels.
type Config struct {
	BaseURL string
	APIKey  string

	// Dot paths into API responses.
	FieldsPath   string // e.g. "info.fields"
	ItemsPath    string // e.g. "info.items"
	ExportIDPath string // e.g. "info.export_id"

	// Export column labels.
	EmailField   string // e.g. "Email"
	GroupIDField string // label of the user's group-id list column

	// How long an export takes to materialize, per endpoint.
	GroupExportWait time.Duration
	UserExportWait  time.Duration

	MaxRetries int
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.FieldsPath == "" {
		c.FieldsPath = "info.fields"
	}
	if c.ItemsPath == "" {
		c.ItemsPath = "info.items"
	}
	if c.ExportIDPath == "" {
		c.ExportIDPath = "info.export_id"
	}
	if c.EmailField == "" {
		c.EmailField = "Email"
	}
	if c.GroupExportWait <= 0 {
		c.GroupExportWait = 60 * time.Second
	}
	if c.UserExportWait <= 0 {
		c.UserExportWait = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.APIKey == "" {
		missing = append(missing, "API key")
	}
	if c.GroupIDField == "" {
		missing = append(missing, "group-id field label")
	}
	if len(missing) > 0 {
		return fmt.Errorf("getcourse config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Client looks up entitlements in the GetCourse API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New validates cfg and constructs a Client. A config error here aborts
// startup.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  logger,
	}, nil
}

// httpStatusError marks permanent HTTP failures (anything we don't retry).
type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("getcourse: HTTP %d from %s", e.status, e.url)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// getJSON performs a GET with bounded retries on rate-limit and
// service-unavailable responses. Other HTTP errors are permanent.
func (c *Client) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	reqURL := c.cfg.BaseURL + endpoint

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			var data map[string]any
			err := json.NewDecoder(resp.Body).Decode(&data)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("getcourse: decode response: %w", err)
			}
			return data, nil
		}
		resp.Body.Close()

		if !retryable(resp.StatusCode) || attempt >= c.cfg.MaxRetries {
			return nil, &httpStatusError{status: resp.StatusCode, url: reqURL}
		}

		c.log.Warn("getcourse request throttled, retrying",
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", c.cfg.RetryDelay))
		if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// extract walks a dot path ("info.fields") through decoded JSON.
func extract(data map[string]any, path string) (any, error) {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("getcourse: path %q: %q is not an object", path, key)
		}
		cur, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("getcourse: path %q: key %q not found", path, key)
		}
	}
	return cur, nil
}

// export is a materialized GetCourse export: column labels plus rows.
type export struct {
	fields []string
	items  [][]any
}

// fetchExport requests an export, waits for it to materialize, then
// fetches and decodes it.
func (c *Client) fetchExport(ctx context.Context, endpoint string, wait time.Duration) (*export, error) {
	data, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	rawID, err := extract(data, c.cfg.ExportIDPath)
	if err != nil {
		return nil, err
	}
	exportID, err := asString(rawID)
	if err != nil {
		return nil, fmt.Errorf("getcourse: export id: %w", err)
	}

	c.log.Debug("waiting for getcourse export",
		zap.String("export_id", exportID),
		zap.Duration("wait", wait))
	if err := sleep(ctx, wait); err != nil {
		return nil, err
	}

	data, err = c.getJSON(ctx, "/exports/"+url.PathEscape(exportID)+"?key="+url.QueryEscape(c.cfg.APIKey))
	if err != nil {
		return nil, err
	}

	rawFields, err := extract(data, c.cfg.FieldsPath)
	if err != nil {
		return nil, err
	}
	rawItems, err := extract(data, c.cfg.ItemsPath)
	if err != nil {
		return nil, err
	}

	// An export with no matching rows carries null fields and items.
	ex := &export{}
	fieldList, ok := rawFields.([]any)
	if !ok && rawFields != nil {
		return nil, errors.New("getcourse: export fields is not a list")
	}
	for _, f := range fieldList {
		s, err := asString(f)
		if err != nil {
			return nil, fmt.Errorf("getcourse: export field label: %w", err)
		}
		ex.fields = append(ex.fields, s)
	}

	itemList, ok := rawItems.([]any)
	if !ok && rawItems != nil {
		return nil, errors.New("getcourse: export items is not a list")
	}
	for _, it := range itemList {
		row, ok := it.([]any)
		if !ok {
			return nil, errors.New("getcourse: export row is not a list")
		}
		ex.items = append(ex.items, row)
	}
	return ex, nil
}

func (ex *export) fieldIndex(label string) (int, error) {
	for i, f := range ex.fields {
		if f == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("getcourse: field %q not found in export", label)
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatInt(int64(t), 10), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}

// EmailsInGroup returns the emails currently in a GetCourse group.
func (c *Client) EmailsInGroup(ctx context.Context, groupID int64) ([]string, error) {
	if groupID <= 0 {
		return nil, fmt.Errorf("getcourse: group id %d must be positive", groupID)
	}

	endpoint := fmt.Sprintf("/groups/%d/users?key=%s", groupID, url.QueryEscape(c.cfg.APIKey))
	ex, err := c.fetchExport(ctx, endpoint, c.cfg.GroupExportWait)
	if err != nil {
		return nil, err
	}
	if len(ex.items) == 0 {
		c.log.Debug("getcourse: group export is empty", zap.Int64("group_id", groupID))
		return nil, nil
	}

	idx, err := ex.fieldIndex(c.cfg.EmailField)
	if err != nil {
		return nil, err
	}

	var emails []string
	for _, row := range ex.items {
		if len(row) <= idx || row[idx] == nil {
			continue
		}
		if s, ok := row[idx].(string); ok && s != "" {
			emails = append(emails, s)
		}
	}
	c.log.Debug("getcourse group export parsed",
		zap.Int64("group_id", groupID),
		zap.Int("emails", len(emails)))
	return emails, nil
}

// GroupsForEmail returns the GetCourse group ids the email belongs to.
// An unknown email yields an empty slice, not an error.
func (c *Client) GroupsForEmail(ctx context.Context, email string) ([]string, error) {
	if email == "" {
		return nil, errors.New("getcourse: email is empty")
	}

	endpoint := "/users?key=" + url.QueryEscape(c.cfg.APIKey) +
		"&email=" + url.QueryEscape(email) + "&idgrouplist=id"
	ex, err := c.fetchExport(ctx, endpoint, c.cfg.UserExportWait)
	if err != nil {
		return nil, err
	}
	if len(ex.items) == 0 {
		c.log.Debug("getcourse: no groups for email", zap.String("email", email))
		return nil, nil
	}

	idx, err := ex.fieldIndex(c.cfg.GroupIDField)
	if err != nil {
		return nil, err
	}

	if len(ex.items[0]) <= idx || ex.items[0][idx] == nil {
		c.log.Debug("getcourse: no groups for email", zap.String("email", email))
		return nil, nil
	}

	var groups []string
	switch v := ex.items[0][idx].(type) {
	case []any:
		for _, g := range v {
			s, err := asString(g)
			if err != nil {
				return nil, fmt.Errorf("getcourse: group id value: %w", err)
			}
			groups = append(groups, s)
		}
	case string:
		// Some exports flatten the list to a comma-separated string.
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				groups = append(groups, s)
			}
		}
	default:
		return nil, fmt.Errorf("getcourse: unexpected group list type %T", v)
	}
	return groups, nil
}
