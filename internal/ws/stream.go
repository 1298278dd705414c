package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/lastword/internal/game"
)

const writeWait = 5 * time.Second

// StreamMessage is what spectators receive for every session event.
type StreamMessage struct {
	Type string     `json:"type"`
	Data game.Event `json:"data"`
}

type streamConn struct {
	ws *websocket.Conn
	mu sync.Mutex // gorilla allows one concurrent writer
}

func (sc *streamConn) write(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.ws.WriteMessage(websocket.TextMessage, data)
}

// Stream is a read-only websocket feed of session events for spectators.
type Stream struct {
	rm       *game.Registry
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[*streamConn]bool
}

func NewStream(rm *game.Registry) *Stream {
	return &Stream{
		rm: rm,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]map[*streamConn]bool),
	}
}

// Handle upgrades GET /api/sessions/:code/stream.
func (st *Stream) Handle(c *gin.Context) {
	sess, err := st.rm.Get(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": game.ErrorCode(err), "message": err.Error()})
		return
	}
	conn, err := st.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("code", sess.Code).Msg("websocket upgrade failed")
		return
	}
	sc := &streamConn{ws: conn}
	st.add(sess.Code, sc)
	defer st.remove(sess.Code, sc)

	hello := StreamMessage{Type: "snapshot", Data: game.Event{Type: "snapshot", SessionCode: sess.Code, State: sess.State().Redacted()}}
	if data, err := json.Marshal(hello); err == nil {
		if err := sc.write(data); err != nil {
			return
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (st *Stream) Publish(_ context.Context, ev game.Event) {
	ev.State = ev.State.Redacted()
	data, err := json.Marshal(StreamMessage{Type: string(ev.Type), Data: ev})
	if err != nil {
		log.Error().Err(err).Str("code", ev.SessionCode).Msg("stream marshal failed")
		return
	}
	for _, sc := range st.conns(ev.SessionCode) {
		if err := sc.write(data); err != nil {
			log.Debug().Err(err).Str("code", ev.SessionCode).Msg("stream write failed")
			st.remove(ev.SessionCode, sc)
		}
	}
}

func (st *Stream) add(code string, sc *streamConn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sessions[code] == nil {
		st.sessions[code] = make(map[*streamConn]bool)
	}
	st.sessions[code][sc] = true
	log.Info().Str("code", code).Int("spectators", len(st.sessions[code])).Msg("spectator connected")
}

func (st *Stream) remove(code string, sc *streamConn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	conns, ok := st.sessions[code]
	if !ok || !conns[sc] {
		return
	}
	delete(conns, sc)
	_ = sc.ws.Close()
	if len(conns) == 0 {
		delete(st.sessions, code)
	}
	log.Info().Str("code", code).Msg("spectator disconnected")
}

func (st *Stream) conns(code string) []*streamConn {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*streamConn, 0, len(st.sessions[code]))
	for sc := range st.sessions[code] {
		out = append(out, sc)
	}
	return out
}
