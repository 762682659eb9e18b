// Package subscribe fans updates out to any number of subscribed clients.
package subscribe

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// clientQueueSize is the number of updates buffered per client before the
// queue starts to grow.
const clientQueueSize = 20

// ErrServerShuttingDown is returned once the server is stopping.
var ErrServerShuttingDown = errors.New("subscription server shutting down")

// Client receives the updates sent after it subscribed. A slow client never
// blocks the server or the other clients: its updates queue up instead.
type Client[T any] struct {
	id     uint64
	server *Server[T]

	updates    *fn.ConcurrentQueue[T]
	quit       chan struct{}
	cancelOnce sync.Once
}

// Updates returns the channel the updates are delivered on.
func (c *Client[T]) Updates() <-chan T {
	return c.updates.ChanOut()
}

// Quit returns a channel that is closed once the client no longer receives
// updates, either because it cancelled or because the server stopped.
func (c *Client[T]) Quit() <-chan struct{} {
	return c.quit
}

// Cancel ends the subscription. It is safe to call more than once.
func (c *Client[T]) Cancel() {
	c.cancelOnce.Do(func() {
		select {
		case c.server.cancels <- c.id:
		case <-c.server.quit:
		}
	})
}

// release stops the delivery of updates to the client.
func (c *Client[T]) release() {
	c.updates.Stop()
	close(c.quit)
}

// Server delivers every update to all active clients in the order it was
// sent.
type Server[T any] struct {
	started atomic.Bool
	stopped atomic.Bool
	nextID  atomic.Uint64

	// clients is only accessed by the dispatcher.
	clients map[uint64]*Client[T]

	registrations chan *Client[T]
	cancels       chan uint64
	updates       chan T

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer returns a new Server. Start must be called before clients
// subscribe.
func NewServer[T any]() *Server[T] {
	return &Server[T]{
		clients:       make(map[uint64]*Client[T]),
		registrations: make(chan *Client[T]),
		cancels:       make(chan uint64),
		updates:       make(chan T),
		quit:          make(chan struct{}),
	}
}

// Start launches the dispatcher.
func (s *Server[T]) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.wg.Add(1)
	go s.dispatch()

	return nil
}

// Stop releases every client and waits for the dispatcher to exit.
func (s *Server[T]) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(s.quit)
	s.wg.Wait()

	return nil
}

// Subscribe returns a client that receives every update sent after the
// call.
func (s *Server[T]) Subscribe() (*Client[T], error) {
	client := &Client[T]{
		id:      s.nextID.Add(1),
		server:  s,
		updates: fn.NewConcurrentQueue[T](clientQueueSize),
		quit:    make(chan struct{}),
	}

	select {
	case s.registrations <- client:
		return client, nil

	case <-s.quit:
		return nil, ErrServerShuttingDown
	}
}

// SendUpdate hands the update to the dispatcher for delivery to every
// client.
func (s *Server[T]) SendUpdate(update T) error {
	select {
	case s.updates <- update:
		return nil

	case <-s.quit:
		return ErrServerShuttingDown
	}
}

// dispatch owns the client set. It registers and cancels clients and
// queues each update on every client.
//
// NOTE: MUST be run as a goroutine.
func (s *Server[T]) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case client := <-s.registrations:
			client.updates.Start()
			s.clients[client.id] = client

		case id := <-s.cancels:
			if client, ok := s.clients[id]; ok {
				client.release()
				delete(s.clients, id)
			}

		case update := <-s.updates:
			if !s.broadcast(update) {
				s.releaseAll()
				return
			}

		case <-s.quit:
			s.releaseAll()
			return
		}
	}
}

// broadcast queues the update on every client. False is returned if the
// server stopped meanwhile.
func (s *Server[T]) broadcast(update T) bool {
	for _, client := range s.clients {
		select {
		case client.updates.ChanIn() <- update:
		case <-s.quit:
			return false
		}
	}

	return true
}

// releaseAll releases every client.
func (s *Server[T]) releaseAll() {
	for id, client := range s.clients {
		client.release()
		delete(s.clients, id)
	}
}
