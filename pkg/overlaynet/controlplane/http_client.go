package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	clientTotalTimeout   = 10 * time.Second
	clientConnectTimeout = 5 * time.Second
	clientMaxRetries     = 3
	clientRetryBase      = 200 * time.Millisecond
)

// Client is an HTTP client for the control-plane API of §6, with bounded
// retries and exponential backoff on transient failures.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client against baseURL (e.g. "http://control:8666").
// The bearer token, once obtained via Register, is attached to every
// subsequent request.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: clientTotalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: clientConnectTimeout}).DialContext,
			},
		},
	}
}

// SetToken attaches a bearer token to all subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("controlplane: encode request: %w", err)
		}
	}

	fullURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= clientMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := clientRetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reqBody io.Reader
		if encoded != nil {
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return fmt.Errorf("controlplane: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("controlplane: request failed, retrying", "path", path, "attempt", attempt+1, "error", err)
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("controlplane: server error %d on %s", resp.StatusCode, path)
			slog.Warn("controlplane: server error, retrying", "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrPartyNotFound
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrTokenInvalid
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("controlplane: request to %s failed with status %d: %s", path, resp.StatusCode, data)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("controlplane: decode response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("controlplane: %s %s failed after %d attempts: %w", method, path, clientMaxRetries+1, lastErr)
}

// Register obtains a bearer token for peerID and stores it on the client.
func (c *Client) Register(ctx context.Context, peerID string) (AuthToken, error) {
	var resp struct {
		Token     string    `json:"token"`
		PeerID    string    `json:"peer_id"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	path := "/auth/register?peer_id=" + url.QueryEscape(peerID)
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return AuthToken{}, err
	}
	token := AuthToken{Token: resp.Token, PeerID: resp.PeerID, ExpiresAt: resp.ExpiresAt}
	c.SetToken(token.Token)
	return token, nil
}

// CreateParty creates a new party hosted by hostPeer.
func (c *Client) CreateParty(ctx context.Context, name string, hostPeer PeerInfo) (PartyInfo, error) {
	var resp struct {
		PartyID string    `json:"party_id"`
		Party   PartyInfo `json:"party"`
	}
	body := map[string]any{"name": name, "host_peer_info": hostPeer}
	if err := c.do(ctx, http.MethodPost, "/parties", body, &resp); err != nil {
		return PartyInfo{}, err
	}
	return resp.Party, nil
}

// JoinParty joins peer to partyID.
func (c *Client) JoinParty(ctx context.Context, partyID string, peer PeerInfo) (PartyInfo, error) {
	var resp struct {
		Party PartyInfo `json:"party"`
	}
	body := map[string]any{"party_id": partyID, "peer_info": peer}
	if err := c.do(ctx, http.MethodPost, "/parties/"+partyID+"/join", body, &resp); err != nil {
		return PartyInfo{}, err
	}
	return resp.Party, nil
}

// LeaveParty removes peerID from partyID.
func (c *Client) LeaveParty(ctx context.Context, partyID, peerID string) error {
	return c.do(ctx, http.MethodDelete, "/parties/"+partyID+"/peers/"+peerID, nil, nil)
}

// GetParty fetches a party by id.
func (c *Client) GetParty(ctx context.Context, partyID string) (PartyInfo, error) {
	var resp struct {
		Party PartyInfo `json:"party"`
	}
	if err := c.do(ctx, http.MethodGet, "/parties/"+partyID, nil, &resp); err != nil {
		return PartyInfo{}, err
	}
	return resp.Party, nil
}

// GetPeers fetches every peer in partyID.
func (c *Client) GetPeers(ctx context.Context, partyID string) (map[string]PeerInfo, error) {
	var resp struct {
		Peers map[string]PeerInfo `json:"peers"`
	}
	if err := c.do(ctx, http.MethodGet, "/parties/"+partyID+"/peers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// DiscoverPeer fetches a single peer's entry within partyID.
func (c *Client) DiscoverPeer(ctx context.Context, partyID, peerID string) (PeerInfo, error) {
	var resp struct {
		Peer PeerInfo `json:"peer"`
	}
	if err := c.do(ctx, http.MethodGet, "/parties/"+partyID+"/peers/"+peerID, nil, &resp); err != nil {
		return PeerInfo{}, err
	}
	return resp.Peer, nil
}

// Heartbeat advances peerID's last_seen timestamp in partyID.
func (c *Client) Heartbeat(ctx context.Context, partyID, peerID string) error {
	return c.do(ctx, http.MethodPost, "/parties/"+partyID+"/peers/"+peerID+"/heartbeat", nil, nil)
}

// RegisterRelay registers or refreshes a relay candidate.
func (c *Client) RegisterRelay(ctx context.Context, relay RelayCandidate) (RelayCandidate, error) {
	var resp struct {
		Relay RelayCandidate `json:"relay"`
	}
	if err := c.do(ctx, http.MethodPost, "/relays", relay, &resp); err != nil {
		return RelayCandidate{}, err
	}
	return resp.Relay, nil
}

// ListRelays fetches every known relay candidate.
func (c *Client) ListRelays(ctx context.Context) ([]RelayCandidate, error) {
	var resp struct {
		Relays []RelayCandidate `json:"relays"`
	}
	if err := c.do(ctx, http.MethodGet, "/relays", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relays, nil
}

// ListRelaysByRegion fetches every known relay candidate in region.
func (c *Client) ListRelaysByRegion(ctx context.Context, region string) ([]RelayCandidate, error) {
	var resp struct {
		Relays []RelayCandidate `json:"relays"`
	}
	if err := c.do(ctx, http.MethodGet, "/relays/"+region, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relays, nil
}
