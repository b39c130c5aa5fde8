package feed

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler upgrades the request and subscribes the socket. allowOrigin
// decides cross-origin upgrades; nil accepts every origin.
func WSHandler(hub *Hub, allowOrigin func(origin string) bool) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowOrigin == nil {
				return true
			}
			return allowOrigin(strings.ToLower(origin))
		},
	}

	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		// welcome goes out before the socket is shared with broadcasts
		_ = ws.WriteMessage(websocket.TextMessage, hub.welcome())
		hub.AddWS(ws)
		hub.log.Debug().Str("remote", c.ClientIP()).Msg("ws client connected")

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(ws)
		hub.log.Debug().Str("remote", c.ClientIP()).Msg("ws client disconnected")
	}
}
