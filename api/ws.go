package api

import (
	"net/http"
	"time"

	"hybridtrader/logging"
	"hybridtrader/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// RegisterWebsocket attaches a /events/stream route that upgrades to a
// websocket and pushes every orchestrator Event as it is published, for
// any attached UI: the live half of the dual event exposure, alongside
// the bounded in-memory ring polling endpoint.
func RegisterWebsocket(router gin.IRouter, bus *orchestrator.EventBus) {
	router.GET("/events/stream", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warnf("websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	})
}
