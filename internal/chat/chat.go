// Package chat is the application glue described in SPEC_FULL §5: it wires
// one messaging namespace, /chat, onto the core Engine/Messaging stack,
// superseding the teacher's bespoke internal/socketio + internal/hub chat
// transport. It demonstrates joining a room keyed by session id,
// broadcasting "message" events to that room, and acking a "ping" event,
// the same shape internal/handler/websocket.go drove over its own hand
// rolled hub.
package chat

import (
	"time"

	"github.com/sirupsen/logrus"

	"iorelay/internal/messaging"
	"iorelay/internal/store"
)

// Namespace is the messaging namespace this package registers.
const Namespace = "/chat"

type Deps struct {
	Store  *store.Store
	Logger logrus.FieldLogger
}

// Register attaches the /chat namespace's event handlers to msgServer. Call
// it once during router setup, before the Engine Server starts accepting
// handshakes.
func Register(msgServer *messaging.Server, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	msgServer.On(Namespace, func(sock *messaging.Socket) {
		userID, _ := sock.Handshake()["userID"].(string)
		log := logger.WithFields(logrus.Fields{"socket": sock.ID(), "userID": userID})
		log.Debug("chat: socket connected")

		sock.On("join", func(args ...any) {
			sid := argString(args, 0)
			if sid == "" {
				return
			}
			sock.Join(sid)
			log.WithField("session", sid).Debug("chat: joined room")
		})

		sock.On("leave", func(args ...any) {
			sid := argString(args, 0)
			if sid == "" {
				return
			}
			sock.Leave(sid)
		})

		sock.On("message", func(args ...any) {
			sid := argString(args, 0)
			text := argString(args, 1)
			if sid == "" || text == "" {
				return
			}
			msg, err := deps.Store.AppendMessage(userID, sid, text, time.Now().UnixMilli())
			if err != nil {
				log.WithError(err).Warn("chat: append message failed")
				return
			}
			if err := sock.To(sid).Emit("message", sid, msg.ID, msg.Seq, msg.Content, msg.CreatedAt); err != nil {
				log.WithError(err).Warn("chat: broadcast failed")
			}
		})

		sock.On("ping", func(args ...any) {
			if len(args) == 0 {
				return
			}
			ack, ok := args[len(args)-1].(messaging.AckCallback)
			if !ok {
				return
			}
			ack(messaging.String("pong"))
		})

		sock.On("disconnect", func(args ...any) {
			log.Debug("chat: socket disconnected")
		})
	})
}

// argString reads args[i] as a messaging.Value string, returning "" if the
// index is out of range or the value isn't a string.
func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	v, ok := args[i].(messaging.Value)
	if !ok || v.Kind != messaging.KindString {
		return ""
	}
	return v.S
}
