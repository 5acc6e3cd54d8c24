package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/richardliu001/wallet-ledger/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type streamMsg struct {
	Type string           `json:"type"`
	Data session.Snapshot `json:"data"`
}

// stream upgrades to a WebSocket and pushes a full wallet snapshot on activation and after every change.
func (h *Handler) stream(c *gin.Context) {
	caller, userID := callerFrom(c), c.Param("userId")
	if err := caller.CanAccess(userID); err != nil {
		h.fail(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("ws upgrade user=%s: %v", userID, err)
		return
	}
	defer conn.Close()

	sess := session.New(h.svc, h.sub, caller, h.sessOpts, h.log)
	// only the latest snapshot matters; a slow client skips intermediate ones
	updates := make(chan session.Snapshot, 1)
	stop := sess.OnChange(func(snap session.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.Activate(ctx, userID); err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(gin.H{"type": "error", "error": session.Reason(err, h.svc.Limits())})
		return
	}
	defer func() { _ = sess.Deactivate() }()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamMsg{Type: "snapshot", Data: snap}); err != nil {
				h.log.Infof("ws write user=%s: %v", userID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
