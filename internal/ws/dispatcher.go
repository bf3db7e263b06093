package ws

import (
	"log"

	"github.com/arachnobot/companion/internal/protocol"
)

// MessageHandler handles one parsed dashboard message. msg is the struct
// returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes dashboard frames by action. Pings are answered
// directly; malformed frames get an error frame back.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a dispatcher. The server may be nil and set
// later, since NewServer takes Dispatch as its callback.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the server used for replies.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register sets the handler for an action, replacing any previous one.
func (d *MessageDispatcher) Register(action string, handler MessageHandler) {
	d.handlers[action] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	action, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: bad frame session=%s: %v", conn.ID, err)
		d.reply(conn, protocol.ActionError, protocol.ErrorPayload{Code: "bad_request", Message: "invalid or unsupported message"})
		return
	}

	if action == protocol.ActionPing {
		conn.Touch()
		d.reply(conn, protocol.ActionPong, struct{}{})
		return
	}

	handler, ok := d.handlers[action]
	if !ok {
		log.Printf("ws: no handler for action=%q session=%s", action, conn.ID)
		d.reply(conn, protocol.ActionError, protocol.ErrorPayload{Code: "unsupported", Message: "unsupported action"})
		return
	}
	handler(conn, msg)
}

func (d *MessageDispatcher) reply(conn *Connection, action string, payload interface{}) {
	data, err := protocol.NewFrame(action, payload)
	if err != nil {
		log.Printf("ws: build %s frame session=%s: %v", action, conn.ID, err)
		return
	}

	if d.server != nil {
		err = d.server.write(conn, data)
	} else {
		err = conn.WriteMessage(data)
	}
	if err != nil {
		log.Printf("ws: send %s frame session=%s: %v", action, conn.ID, err)
	}
}
