// Package client talks to the relay's HTTP and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"phantom_chat/internal/model"
	"phantom_chat/internal/utils/log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// tokenHeader must match the relay's header name.
const tokenHeader = "X-Auth-Token"

var (
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad request")
)

type (
	Client struct {
		base   *url.URL
		http   *http.Client
		dialer *websocket.Dialer
	}

	// Room is a joined room: every call is made with the room's token.
	Room struct {
		c           *Client
		ID          string
		Token       string
		Participant string
	}

	CreatedRoom struct {
		ID  string
		TTL time.Duration
	}

	Option func(*Client)
)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer sets the dialer used for event streams.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, codeErr(resp.StatusCode, e.Error)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func codeErr(status int, code string) error {
	switch code {
	case "room-not-found":
		return model.ErrRoomNotFound
	case "room-full":
		return model.ErrRoomFull
	case "forbidden":
		return ErrForbidden
	case "no-peer":
		return model.ErrNoPeer
	case "bad-request":
		return ErrBadRequest
	}
	return fmt.Errorf("relay returned %d %s", status, code)
}

// CreateRoom asks for a room living ttl; zero lets the relay pick.
func (c *Client) CreateRoom(ctx context.Context, ttl time.Duration) (*CreatedRoom, error) {
	var resp struct {
		RoomID string `json:"roomId"`
		TTL    int    `json:"ttl"`
	}
	req := map[string]int{"ttl": int(ttl / time.Second)}
	if _, err := c.do(ctx, http.MethodPost, "/api/room", "", req, &resp); err != nil {
		return nil, err
	}
	return &CreatedRoom{ID: resp.RoomID, TTL: time.Duration(resp.TTL) * time.Second}, nil
}

// Join is admitted to a room, presenting token when rejoining.
func (c *Client) Join(ctx context.Context, roomID, token string) (*Room, error) {
	var adm model.Admission
	if _, err := c.do(ctx, http.MethodPost, "/api/room/"+url.PathEscape(roomID)+"/join", token, nil, &adm); err != nil {
		return nil, err
	}
	return &Room{c: c, ID: roomID, Token: adm.Token, Participant: adm.Participant}, nil
}

func (r *Room) path(suffix string) string {
	return "/api/room/" + url.PathEscape(r.ID) + suffix
}

func (r *Room) TTL(ctx context.Context) (time.Duration, error) {
	var resp struct {
		TTL int `json:"ttl"`
	}
	if _, err := r.c.do(ctx, http.MethodGet, r.path("/ttl"), r.Token, nil, &resp); err != nil {
		return 0, err
	}
	return time.Duration(resp.TTL) * time.Second, nil
}

func (r *Room) Destroy(ctx context.Context) error {
	_, err := r.c.do(ctx, http.MethodDelete, r.path(""), r.Token, nil, nil)
	return err
}

func (r *Room) PublishKeys(ctx context.Context, keys *model.PublicKeys) error {
	_, err := r.c.do(ctx, http.MethodPost, r.path("/keys"), r.Token, keys, nil)
	return err
}

// PeerKeys returns nil while the other participant has not published.
func (r *Room) PeerKeys(ctx context.Context) (*model.PeerKeys, error) {
	var peer model.PeerKeys
	status, err := r.c.do(ctx, http.MethodGet, r.path("/keys"), r.Token, nil, &peer)
	if err != nil || status == http.StatusNoContent {
		return nil, err
	}
	return &peer, nil
}

func (r *Room) PublishEncapsulation(ctx context.Context, e *model.Encapsulation) error {
	_, err := r.c.do(ctx, http.MethodPost, r.path("/kem"), r.Token, e, nil)
	return err
}

// Encapsulation returns nil while nothing is addressed to us.
func (r *Room) Encapsulation(ctx context.Context) (*model.Encapsulation, error) {
	var e model.Encapsulation
	status, err := r.c.do(ctx, http.MethodGet, r.path("/kem"), r.Token, nil, &e)
	if err != nil || status == http.StatusNoContent {
		return nil, err
	}
	return &e, nil
}

func (r *Room) Send(ctx context.Context, out *model.OutgoingMessage) (*model.Message, error) {
	var msg model.Message
	if _, err := r.c.do(ctx, http.MethodPost, r.path("/messages"), r.Token, out, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Room) Messages(ctx context.Context) ([]model.Message, error) {
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if _, err := r.c.do(ctx, http.MethodGet, r.path("/messages"), r.Token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Events opens the room's event stream. The channel is closed when the
// stream ends, after a room-destroyed event or when ctx is done.
func (r *Room) Events(ctx context.Context) (<-chan *model.Event, error) {
	u := *r.c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = r.c.base.Path + r.path("/ws")
	u.RawQuery = url.Values{"token": []string{r.Token}}.Encode()

	conn, resp, err := r.c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var e struct {
				Error string `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
				return nil, codeErr(resp.StatusCode, e.Error)
			}
		}
		return nil, err
	}

	events := make(chan *model.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()

		for {
			var e model.Event
			if err := conn.ReadJSON(&e); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
					log.Debug("event stream ended", zap.String("room", r.ID), zap.Error(err))
				}
				return
			}
			select {
			case events <- &e:
			case <-ctx.Done():
				return
			}
			if e.Type == model.EventRoomDestroyed {
				return
			}
		}
	}()
	return events, nil
}
