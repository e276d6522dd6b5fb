// Package instagram wraps the mobile (private) API surface the agent needs:
// session login and liveness, unread inbox listing, per-thread message
// history, and text replies. Everything else the platform offers is out of
// scope; the rest of the agent depends only on the Client interface.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpanddigital/CrateHQ/internal/device"
)

const (
	defaultBaseURL        = "https://i.instagram.com/api/v1"
	defaultRequestTimeout = 60 * time.Second

	// Consecutive API calls are scattered by a uniform delay in this range,
	// matching the pacing of the official client.
	defaultDelayMin = 1 * time.Second
	defaultDelayMax = 3 * time.Second

	// ThreadFilterUnread selects only threads with unseen inbound items.
	ThreadFilterUnread = "unread"
)

type Client interface {
	Login(ctx context.Context, username, password string) error
	// TimelineFeed is the cheap liveness probe: it fails with
	// ErrLoginRequired when the restored session is no longer valid.
	TimelineFeed(ctx context.Context) error
	DirectThreads(ctx context.Context, filter string) ([]Thread, error)
	// DirectMessages returns up to amount items for a thread, newest first.
	DirectMessages(ctx context.Context, threadID string, amount int) ([]Message, error)
	DirectAnswer(ctx context.Context, threadID, text string) (*SentMessage, error)
	Settings() Settings
	RestoreSettings(Settings)
}

type Options struct {
	Device     device.Profile
	Proxy      string
	BaseURL    string
	HTTPClient *http.Client
}

type restClient struct {
	http     *http.Client
	baseURL  string
	settings Settings

	delayMin time.Duration
	delayMax time.Duration
	sleep    func(ctx context.Context, d time.Duration)

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient builds a fresh client with new device identifiers. The proxy, if
// configured, must be in place before the first network call.
func NewClient(opts Options) (*restClient, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{}
		if proxy := strings.TrimSpace(opts.Proxy); proxy != "" {
			proxyURL, err := url.Parse(proxy)
			if err != nil {
				return nil, fmt.Errorf("parse proxy: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		httpClient = &http.Client{Timeout: defaultRequestTimeout, Transport: transport}
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &restClient{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		delayMin: defaultDelayMin,
		delayMax: defaultDelayMax,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		},
		settings: Settings{
			UUID:      uuid.NewString(),
			PhoneID:   uuid.NewString(),
			DeviceID:  androidDeviceID(),
			UserAgent: userAgent(opts.Device),
			Device:    opts.Device,
		},
	}, nil
}

func androidDeviceID() string {
	return "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func userAgent(p device.Profile) string {
	return fmt.Sprintf("Instagram %s Android (%d/%s; %s; %s; %s; %s; %s; qcom; en_US)",
		p.AppVersion, p.AndroidVersion, p.AndroidRelease, p.DPI, p.Resolution,
		p.Manufacturer, p.Model, p.Model)
}

func (c *restClient) Settings() Settings { return c.settings }

func (c *restClient) RestoreSettings(s Settings) {
	if s.IsZero() {
		return
	}
	c.settings = s
}

// apiEnvelope is the shared response wrapper: every endpoint carries status
// plus an error_type/message pair on failure.
type apiEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// pace delays every call after the first so request spacing never drops
// below the configured range within a cycle.
func (c *restClient) pace(ctx context.Context) {
	if c.delayMax <= 0 {
		return
	}
	c.mu.Lock()
	first := c.lastCall.IsZero()
	c.lastCall = time.Now()
	c.mu.Unlock()
	if first {
		return
	}
	span := c.delayMax - c.delayMin
	d := c.delayMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	c.sleep(ctx, d)
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, form url.Values) ([]byte, error) {
	c.pace(ctx)

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	req.Header.Set("User-Agent", c.settings.UserAgent)
	req.Header.Set("X-IG-Device-ID", c.settings.UUID)
	req.Header.Set("X-IG-Android-ID", c.settings.DeviceID)
	if c.settings.Authorization != "" {
		req.Header.Set("Authorization", c.settings.Authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	// A successful login hands back the bearer session in a response header.
	if auth := strings.TrimSpace(resp.Header.Get("Ig-Set-Authorization")); auth != "" {
		c.settings.Authorization = auth
	}

	var envelope apiEnvelope
	_ = json.Unmarshal(raw, &envelope)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (envelope.Status != "" && envelope.Status != "ok") {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorType:  envelope.ErrorType,
			Message:    envelope.Message,
		}
	}
	return raw, nil
}

type loginResponse struct {
	LoggedInUser struct {
		PK       int64  `json:"pk"`
		Username string `json:"username"`
	} `json:"logged_in_user"`
}

func (c *restClient) Login(ctx context.Context, username, password string) error {
	payload, err := json.Marshal(map[string]string{
		"username":  username,
		"password":  password,
		"guid":      c.settings.UUID,
		"phone_id":  c.settings.PhoneID,
		"device_id": c.settings.DeviceID,
	})
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("signed_body", "SIGNATURE."+string(payload))

	raw, err := c.do(ctx, http.MethodPost, "/accounts/login/", nil, form)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	var out loginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("login: decode response: %w", err)
	}
	if out.LoggedInUser.PK != 0 {
		c.settings.UserID = out.LoggedInUser.PK
	}
	return nil
}

func (c *restClient) TimelineFeed(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/feed/timeline/", nil, nil); err != nil {
		return fmt.Errorf("timeline feed: %w", err)
	}
	return nil
}

type wireUser struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type wireImageCandidate struct {
	URL string `json:"url"`
}

type wireMedia struct {
	ImageVersions2 struct {
		Candidates []wireImageCandidate `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions []wireImageCandidate `json:"video_versions"`
}

type wireItem struct {
	ItemID    string      `json:"item_id"`
	UserID    int64       `json:"user_id"`
	Text      string      `json:"text"`
	ItemType  string      `json:"item_type"`
	Timestamp json.Number `json:"timestamp"`
	Media     *wireMedia  `json:"media"`
}

type wireThread struct {
	ThreadID string     `json:"thread_id"`
	Users    []wireUser `json:"users"`
	Items    []wireItem `json:"items"`
}

type inboxResponse struct {
	Inbox struct {
		Threads []wireThread `json:"threads"`
	} `json:"inbox"`
}

type threadResponse struct {
	Thread wireThread `json:"thread"`
}

func (c *restClient) DirectThreads(ctx context.Context, filter string) ([]Thread, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("selected_filter", filter)
	}
	raw, err := c.do(ctx, http.MethodGet, "/direct_v2/inbox/", query, nil)
	if err != nil {
		return nil, fmt.Errorf("direct threads: %w", err)
	}
	var out inboxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("direct threads: decode response: %w", err)
	}
	threads := make([]Thread, 0, len(out.Inbox.Threads))
	for _, wt := range out.Inbox.Threads {
		threads = append(threads, Thread{ID: wt.ThreadID, Users: usersFromWire(wt.Users)})
	}
	return threads, nil
}

func (c *restClient) DirectMessages(ctx context.Context, threadID string, amount int) ([]Message, error) {
	if amount <= 0 {
		amount = 20
	}
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", amount))
	raw, err := c.do(ctx, http.MethodGet, "/direct_v2/threads/"+url.PathEscape(threadID)+"/", query, nil)
	if err != nil {
		return nil, fmt.Errorf("direct messages %s: %w", threadID, err)
	}
	var out threadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("direct messages %s: decode response: %w", threadID, err)
	}
	messages := make([]Message, 0, len(out.Thread.Items))
	for _, item := range out.Thread.Items {
		messages = append(messages, messageFromWire(item))
	}
	return messages, nil
}

type broadcastResponse struct {
	Payload struct {
		ItemID string `json:"item_id"`
	} `json:"payload"`
}

func (c *restClient) DirectAnswer(ctx context.Context, threadID, text string) (*SentMessage, error) {
	form := url.Values{}
	form.Set("thread_ids", fmt.Sprintf("[%s]", threadID))
	form.Set("text", text)
	form.Set("client_context", uuid.NewString())

	raw, err := c.do(ctx, http.MethodPost, "/direct_v2/threads/broadcast/text/", nil, form)
	if err != nil {
		return nil, fmt.Errorf("direct answer %s: %w", threadID, err)
	}
	var out broadcastResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("direct answer %s: decode response: %w", threadID, err)
	}
	return &SentMessage{ID: out.Payload.ItemID}, nil
}

func usersFromWire(in []wireUser) []User {
	users := make([]User, 0, len(in))
	for _, u := range in {
		users = append(users, User{PK: u.PK, Username: u.Username, FullName: u.FullName})
	}
	return users
}

func messageFromWire(item wireItem) Message {
	msg := Message{
		ID:       item.ItemID,
		UserID:   item.UserID,
		Text:     item.Text,
		ItemType: item.ItemType,
	}
	// Wire timestamps are microseconds since epoch.
	if us, err := item.Timestamp.Int64(); err == nil && us > 0 {
		msg.Timestamp = time.UnixMicro(us).UTC()
	}
	if item.Media != nil {
		media := &Media{}
		if len(item.Media.ImageVersions2.Candidates) > 0 {
			media.ThumbnailURL = item.Media.ImageVersions2.Candidates[0].URL
		}
		if len(item.Media.VideoVersions) > 0 {
			media.VideoURL = item.Media.VideoVersions[0].URL
		}
		if media.ThumbnailURL != "" || media.VideoURL != "" {
			msg.Media = media
		}
	}
	return msg
}
