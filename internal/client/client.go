// Package client 是 clipshare 服务端的 Go 客户端，实现了 roomsync.Backend，
// 同时提供登录、管理和重排版接口，供 notectl 使用。
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
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/dto"
	"github.com/msea200/clipshare/internal/roomsync"
)

var (
	ErrUnauthenticated = errors.New("client: authentication required")
	ErrForbidden       = errors.New("client: permission denied")
)

// APIError 表示服务端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap 把常见状态码映射为可用 errors.Is 判断的哨兵错误
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return roomsync.ErrNotFound
	case http.StatusGone:
		return roomsync.ErrExpired
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	}
	return nil
}

// Client 通过 REST 和 websocket 访问服务端，可被多个 goroutine 共享。
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	log     *logrus.Entry

	mu        sync.RWMutex
	token     string
	identity  *domain.Identity
	listeners []func(*domain.Identity)
}

var _ roomsync.Backend = (*Client)(nil)

// Option 配置 Client
type Option func(*Client)

// WithHTTPClient 替换默认的 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken 使用已保存的 token 和身份恢复登录状态
func WithToken(token string, identity *domain.Identity) Option {
	return func(c *Client) {
		c.token = token
		c.identity = identity
	}
}

// New 创建客户端，baseURL 形如 http://localhost:8080
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     logrus.WithField("component", "client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// --- AuthProvider ---

// Register 创建新用户
func (c *Client) Register(ctx context.Context, req dto.RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/api/auth/register", req, nil)
}

// SignIn 登录并保存 token，成功后通知身份监听者
func (c *Client) SignIn(ctx context.Context, username, password string) (*domain.Identity, error) {
	var resp dto.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", dto.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.setIdentity(resp.Token, resp.Identity)
	return resp.Identity, nil
}

// SignOut 丢弃本地 token。token 是无状态的，不需要通知服务端。
func (c *Client) SignOut() {
	c.setIdentity("", nil)
}

// OnIdentityChange 注册身份变化回调，登出时回调参数为 nil
func (c *Client) OnIdentityChange(fn func(*domain.Identity)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Identity 返回当前身份，匿名时为 nil
func (c *Client) Identity() *domain.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Token 返回当前 token，用于持久化登录状态
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Me 向服务端确认当前 token 对应的身份
func (c *Client) Me(ctx context.Context) (*domain.Identity, error) {
	var identity domain.Identity
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (c *Client) setIdentity(token string, identity *domain.Identity) {
	c.mu.Lock()
	c.token = token
	c.identity = identity
	listeners := append([]func(*domain.Identity){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(identity)
	}
}

// --- Rooms ---

// CreateRoom 创建房间，scheme 为 random 或 dated
func (c *Client) CreateRoom(ctx context.Context, scheme string) (*domain.Room, error) {
	var payload dto.RoomPayload
	if err := c.do(ctx, http.MethodPost, "/api/rooms", dto.CreateRoomRequest{Scheme: scheme}, &payload); err != nil {
		return nil, err
	}
	return payload.ToRoom(), nil
}

// Today 获取或创建当天的房间
func (c *Client) Today(ctx context.Context) (*domain.Room, error) {
	var payload dto.RoomPayload
	if err := c.do(ctx, http.MethodPost, "/api/rooms/today", nil, &payload); err != nil {
		return nil, err
	}
	return payload.ToRoom(), nil
}

// Join 实现 roomsync.Backend
func (c *Client) Join(ctx context.Context, code string) (*domain.Room, error) {
	var payload dto.RoomPayload
	if err := c.do(ctx, http.MethodPost, roomPath(code, "join"), nil, &payload); err != nil {
		return nil, err
	}
	return payload.ToRoom(), nil
}

// AddNote 实现 roomsync.Backend，登录时服务端会记录作者
func (c *Client) AddNote(ctx context.Context, code, text string) (*domain.Note, error) {
	var note domain.Note
	if err := c.do(ctx, http.MethodPost, roomPath(code, "notes"), dto.NoteRequest{Text: text}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// DeleteNote 实现 roomsync.Backend
func (c *Client) DeleteNote(ctx context.Context, code, noteID string) error {
	return c.do(ctx, http.MethodDelete, roomPath(code, "notes", noteID), nil, nil)
}

// SetDraft 实现 roomsync.Backend
func (c *Client) SetDraft(ctx context.Context, code, text string) error {
	return c.do(ctx, http.MethodPut, roomPath(code, "draft"), dto.DraftRequest{Text: text}, nil)
}

// --- Admin ---

// AdminRoomList 是管理列表接口的响应
type AdminRoomList struct {
	Rooms          []domain.Room `json:"rooms"`
	NormalCount    int           `json:"normalCount"`
	PermanentCount int           `json:"permanentCount"`
}

// AdminListRooms 列出 normal 或 permanent 分区的房间
func (c *Client) AdminListRooms(ctx context.Context, kind string) (*AdminRoomList, error) {
	path := "/api/admin/rooms"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var list AdminRoomList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// AdminTogglePermanent 翻转永久标记并返回新值
func (c *Client) AdminTogglePermanent(ctx context.Context, code string) (bool, error) {
	var resp dto.TogglePermanentResponse
	if err := c.do(ctx, http.MethodPost, "/api/admin/rooms/"+url.PathEscape(code)+"/permanent", nil, &resp); err != nil {
		return false, err
	}
	return resp.Permanent, nil
}

// AdminDeleteRoom 删除房间
func (c *Client) AdminDeleteRoom(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/rooms/"+url.PathEscape(code), nil, nil)
}

// --- Reformat ---

// Reformat 调用服务端的 LLM 重排版代理
func (c *Client) Reformat(ctx context.Context, prompt string) (string, error) {
	var resp dto.ReformatResponse
	if err := c.do(ctx, http.MethodPost, "/api/reformat", dto.ReformatRequest{Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

func roomPath(code string, parts ...string) string {
	segments := append([]string{"/api/rooms", url.PathEscape(code)}, parts...)
	for i := 2; i < len(segments); i++ {
		segments[i] = url.PathEscape(segments[i])
	}
	return strings.Join(segments, "/")
}

// do 发送 JSON 请求；非 2xx 时返回 *APIError
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeAPIError 兼容 {"error": "..."} 和重排版代理的 {"success": false, "error": "..."}
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error string `json:"error"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); err == nil {
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
