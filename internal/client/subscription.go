package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// Subscribe 实现 roomsync.Backend：连接房间的 websocket，
// 服务端推送的快照会被拆成 notes / draft / permanent 三个事件。
func (c *Client) Subscribe(ctx context.Context, code string) (roomsync.Subscription, error) {
	wsURL := *c.baseURL
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws/rooms/" + url.PathEscape(code)
	if token := c.Token(); token != "" {
		q := wsURL.Query()
		q.Set("access_token", token)
		wsURL.RawQuery = q.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if errors.Is(err, websocket.ErrBadHandshake) {
				return nil, decodeAPIError(resp)
			}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	sub := &wsSubscription{
		conn:         conn,
		events:       make(chan domain.RoomEvent, 64),
		connectivity: make(chan bool, 1),
		done:         make(chan struct{}),
		log:          c.log.WithField("room_code", code),
	}
	go sub.readLoop()
	return sub, nil
}

// wsSubscription 把 websocket 帧转换为 domain.RoomEvent
type wsSubscription struct {
	conn         *websocket.Conn
	events       chan domain.RoomEvent
	connectivity chan bool
	done         chan struct{}
	closeOnce    sync.Once
	log          *logrus.Entry
}

func (s *wsSubscription) Events() <-chan domain.RoomEvent { return s.events }
func (s *wsSubscription) Connectivity() <-chan bool       { return s.connectivity }

func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.WithError(err).Warn("Websocket connection lost")
				s.signal(false)
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			s.log.WithError(err).Debug("Ignoring malformed frame")
			continue
		}

		switch envelope.Type {
		case dto.MessageSnapshot:
			var snap dto.SnapshotDTO
			if err := json.Unmarshal(data, &snap); err != nil || snap.Room == nil {
				s.log.Debug("Ignoring malformed snapshot frame")
				continue
			}
			room := snap.Room
			if !s.emit(domain.RoomEvent{Type: domain.EventNotes, Code: room.Code, Rev: room.NotesRev, Notes: room.Notes}) ||
				!s.emit(domain.RoomEvent{Type: domain.EventDraft, Code: room.Code, Rev: room.DraftRev, Text: room.DraftText}) ||
				!s.emit(domain.RoomEvent{Type: domain.EventPermanent, Code: room.Code, Permanent: room.Permanent}) {
				return
			}
		case dto.MessageError:
			var msg dto.ErrorDTO
			_ = json.Unmarshal(data, &msg)
			s.log.WithField("message", msg.Message).Warn("Server reported an error")
		default:
			var event domain.RoomEvent
			if err := json.Unmarshal(data, &event); err != nil {
				s.log.WithError(err).Debug("Ignoring malformed event frame")
				continue
			}
			if !s.emit(event) {
				return
			}
		}
	}
}

// emit 在订阅关闭后返回 false
func (s *wsSubscription) emit(event domain.RoomEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

func (s *wsSubscription) signal(up bool) {
	select {
	case s.connectivity <- up:
	default:
	}
}
