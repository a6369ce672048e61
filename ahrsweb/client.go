package ahrsweb

import (
	"github.com/gorilla/websocket"
)

// client is a single websocket connection to a Room.
type client struct {
	// socket is the web socket for this client.
	socket *websocket.Conn
	// send is a channel on which messages are sent.
	send chan []byte
	// room is the room this client is in.
	room *Room
}

// read forwards every message received from the client to the room.
func (c *client) read() {
	defer c.socket.Close()
	for {
		_, msg, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.room.forward <- msg:
		case <-c.room.done:
			return
		}
	}
}

// write sends queued messages to the client until the room closes send.
func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
