// Package client is a Go SDK for the roomfeed REST API and live feed socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// User is a profile as returned by the API.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Group is a chat group as returned by the API.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CreatedBy string   `json:"created_by"`
	Members   []string `json:"members"`
	CreatedAt int64    `json:"created_at"`
}

// ProfileUpdate holds editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Address     *string `json:"address,omitempty"`
}

type authResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls the REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
	uid   string
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetToken sets the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// UID returns the signed-in user's ID, if known.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

func (c *Client) setSession(resp authResponse) {
	c.mu.Lock()
	c.token = resp.Token
	c.uid = resp.User.UID
	c.mu.Unlock()
}

// ==== Auth ====

// SignUp registers an account and keeps its token.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	if err := c.do(ctx, http.MethodPost, "/api/signup", body, &resp); err != nil {
		return nil, err
	}
	c.setSession(resp)
	return &resp.User, nil
}

// SignIn authenticates and keeps the token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*User, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/signin", body, &resp); err != nil {
		return nil, err
	}
	c.setSession(resp)
	return &resp.User, nil
}

// ==== Profiles ====

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.uid = u.UID
	c.mu.Unlock()
	return &u, nil
}

// UpdateProfile edits the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPut, "/api/me", upd, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UploadAvatar replaces the profile picture.
func (c *Client) UploadAvatar(ctx context.Context, filename string, r io.Reader) (*User, error) {
	var u User
	if err := c.upload(ctx, "/api/me/avatar", nil, filename, r, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Users lists every user.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// User fetches one user's profile.
func (c *Client) User(ctx context.Context, uid string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(uid), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Author resolves uid for display. A missing user reports ok=false.
func (c *Client) Author(ctx context.Context, uid string) (feed.Author, bool, error) {
	u, err := c.User(ctx, uid)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return feed.Author{}, false, nil
		}
		return feed.Author{}, false, err
	}
	return feed.Author{ID: u.UID, Name: u.DisplayName, AvatarURL: u.PhotoURL}, true, nil
}

// ==== Blocks ====

// BlockedAuthors returns the UIDs the signed-in user has blocked.
func (c *Client) BlockedAuthors(ctx context.Context) ([]string, error) {
	var resp struct {
		Blocked []string `json:"blocked"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/blocks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Blocked, nil
}

// Block hides uid's messages.
func (c *Client) Block(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodPost, "/api/blocks/"+url.PathEscape(uid), nil, nil)
}

// Unblock shows uid's messages again.
func (c *Client) Unblock(ctx context.Context, uid string) error {
	return c.do(ctx, http.MethodDelete, "/api/blocks/"+url.PathEscape(uid), nil, nil)
}

// ==== Groups ====

// Groups lists the signed-in user's groups.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "/api/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// CreateGroup creates a group with the signed-in user as a member.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*Group, error) {
	var g Group
	body := map[string]any{"name": name, "members": members}
	if err := c.do(ctx, http.MethodPost, "/api/groups", body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Group fetches a group.
func (c *Client) Group(ctx context.Context, id string) (*Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(id), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// AddMembers adds users to a group.
func (c *Client) AddMembers(ctx context.Context, groupID string, members []string) (*Group, error) {
	var g Group
	body := map[string]any{"members": members}
	if err := c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(groupID)+"/members", body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ==== Messages ====

// SendText posts a text message.
func (c *Client) SendText(ctx context.Context, room feed.Room, text string) (feed.Message, error) {
	return c.send(ctx, map[string]string{"room": proto.RoomName(room), "text": text})
}

// SendGIF posts a GIF.
func (c *Client) SendGIF(ctx context.Context, room feed.Room, gifURL string) (feed.Message, error) {
	return c.send(ctx, map[string]string{"room": proto.RoomName(room), "gif_url": gifURL})
}

func (c *Client) send(ctx context.Context, body map[string]string) (feed.Message, error) {
	var m proto.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &m); err != nil {
		return feed.Message{}, err
	}
	return m.ToFeed(), nil
}

// SendImage uploads and posts an image.
func (c *Client) SendImage(ctx context.Context, room feed.Room, filename string, r io.Reader) (feed.Message, error) {
	var m proto.Message
	fields := map[string]string{"room": proto.RoomName(room)}
	if err := c.upload(ctx, "/api/messages/image", fields, filename, r, &m); err != nil {
		return feed.Message{}, err
	}
	return m.ToFeed(), nil
}

// DeleteMessage removes one of the signed-in user's messages.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil)
}

// ClearRoom deletes every message in room.
func (c *Client) ClearRoom(ctx context.Context, room feed.Room) (int64, error) {
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/rooms/" + url.PathEscape(proto.RoomName(room)) + "/messages"
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// ==== GIFs and devices ====

// SearchGIFs searches GIFs; a blank query returns featured ones.
func (c *Client) SearchGIFs(ctx context.Context, query string) ([]gif.Result, error) {
	var results []gif.Result
	if err := c.do(ctx, http.MethodGet, "/api/gifs?q="+url.QueryEscape(query), nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// RegisterDevice registers a push token for the signed-in user.
func (c *Client) RegisterDevice(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/devices", map[string]string{"token": token}, nil)
}

// ==== transport ====

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req, out)
}

func (c *Client) upload(ctx context.Context, path string, fields map[string]string, filename string, r io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
