package ahrsweb

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type Room struct {
	// forward is a channel that holds incoming messages
	// that should be forwarded to the other clients.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool
	// done is closed when Run returns.
	done chan struct{}

	mu     sync.Mutex
	latest []byte
}

// NewRoom makes a new room that is ready to go.
func NewRoom() *Room {
	return &Room{
		forward: make(chan []byte),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
		done:    make(chan struct{}),
	}
}

// Run dispatches messages to clients until ctx is done.
func (r *Room) Run(ctx context.Context) {
	defer func() {
		close(r.done)
		for client := range r.clients {
			close(client.send)
			delete(r.clients, client)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-r.join:
			r.clients[client] = true
			log.Println("AHRSWeb: New client joined")
		case client := <-r.leave:
			if r.clients[client] {
				delete(r.clients, client)
				close(client.send)
			}
			log.Println("AHRSWeb: Client left")
		case msg := <-r.forward:
			r.mu.Lock()
			r.latest = msg
			r.mu.Unlock()
			// forward message to all clients
			for client := range r.clients {
				select {
				case client.send <- msg:
				default:
					log.Println("AHRSWeb: Client is behind, dropping message")
				}
			}
		}
	}
}

// Latest returns the last message forwarded by the room, or nil.
func (r *Room) Latest() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("AHRSWeb: ServeHTTP:", err)
		return
	}
	client := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	select {
	case r.join <- client:
	case <-r.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- client:
		case <-r.done:
		}
	}()
	go client.write()
	client.read()
}
