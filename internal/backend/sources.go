package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Credential is one proxy login.
type Credential struct {
	User string `yaml:"user" json:"user"`
	Pass string `yaml:"pass" json:"pass"`
}

// ProxyURL builds "<base>?user=<u>&pass=<p>".
func ProxyURL(base string, c Credential) string {
	q := url.Values{}
	q.Set("user", c.User)
	q.Set("pass", c.Pass)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// StaticWebSocketSource lists the configured proxy logins.
type StaticWebSocketSource struct {
	ProxyURL    string
	Credentials []Credential
}

func (s *StaticWebSocketSource) List(context.Context) ([]Backend, error) {
	out := make([]Backend, 0, len(s.Credentials))
	for _, c := range s.Credentials {
		out = append(out, &WebSocketBackend{URL: ProxyURL(s.ProxyURL, c), DisplayName: c.User})
	}
	return out, nil
}

// HTTPListSource fetches proxy logins from a device-list endpoint that
// answers with [[user, pass], ...]. The proxy is assumed to live at
// /proxy on the same host, over wss when the list is served over https.
type HTTPListSource struct {
	ListURL string
	Client  *http.Client
	Now     func() time.Time
}

func (s *HTTPListSource) List(ctx context.Context) ([]Backend, error) {
	listURL, err := url.Parse(s.ListURL)
	if err != nil {
		return nil, fmt.Errorf("device list url: %w", err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	q := listURL.Query()
	// cache buster
	q.Set("t", strconv.FormatInt(now().UnixMilli(), 10))
	listURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL.String(), nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch device list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch device list: HTTP %d", resp.StatusCode)
	}

	var pairs [][]string
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}

	scheme := "ws"
	if listURL.Scheme == "https" {
		scheme = "wss"
	}
	proxy := (&url.URL{Scheme: scheme, Host: listURL.Host, Path: "/proxy"}).String()
	out := make([]Backend, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		c := Credential{User: p[0], Pass: p[1]}
		out = append(out, &WebSocketBackend{URL: ProxyURL(proxy, c), DisplayName: c.User})
	}
	return out, nil
}

// TCPSource lists statically configured host:port targets.
type TCPSource struct {
	Targets []string
}

func (s *TCPSource) List(context.Context) ([]Backend, error) {
	out := make([]Backend, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, NewTCPBackend(t))
	}
	return out, nil
}

// PromptFunc asks the user for an address. ok is false when they cancelled.
type PromptFunc func(ctx context.Context) (addr string, ok bool, err error)

// PromptRequester turns an address typed by the user into a TCP backend.
type PromptRequester struct {
	Prompt PromptFunc
}

func (r *PromptRequester) Request(ctx context.Context) (Backend, error) {
	addr, ok, err := r.Prompt(ctx)
	if err != nil {
		return nil, err
	}
	addr = strings.TrimSpace(addr)
	if !ok || addr == "" {
		return nil, nil
	}
	return NewTCPBackend(addr), nil
}
