package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/hub"
)

// WSHandler upgrades availability subscriptions.  Instructor and
// student sockets receive the same payload shape; the split exists so
// each audience can be addressed separately.
type WSHandler struct {
	Hub *hub.Hub
}

func NewWSHandler(h *hub.Hub) *WSHandler { return &WSHandler{Hub: h} }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the app origin; token auth already ran.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Instructor subscribes the caller to the instructor audience.
func (h *WSHandler) Instructor(c echo.Context) error {
	return h.serve(c, hub.AudienceInstructor)
}

// Student subscribes the caller to the student audience.
func (h *WSHandler) Student(c echo.Context) error {
	return h.serve(c, hub.AudienceStudent)
}

func (h *WSHandler) serve(c echo.Context, aud hub.Audience) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := h.Hub.Subscribe(aud, ws)
	defer h.Hub.Unsubscribe(conn)

	// Inbound frames are ignored; the read loop only detects closure.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return nil
		}
	}
}
