package notifier

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chanledger/chanledger/ledger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
)

const (
	// DefaultRecentEvents is the number of envelopes kept for Recent.
	DefaultRecentEvents = 100

	// clientQueueSize is the initial buffer of each client's queue.
	clientQueueSize = 20
)

// ErrServerShuttingDown is returned once the server has been stopped.
var ErrServerShuttingDown = errors.New("event server shutting down")

// Envelope wraps a ledger event with its delivery metadata.
type Envelope struct {
	// Seq numbers envelopes from one, in the order the events were
	// committed.
	Seq uint64

	// Time is when the server received the event.
	Time time.Time

	// Event is the ledger event.
	Event ledger.Event
}

// Client receives every envelope delivered after it subscribed.
type Client struct {
	cancel func()

	updates *queue.ConcurrentQueue
	quit    chan struct{}
}

// Updates returns the channel envelopes are delivered on. Items are always
// *Envelope.
func (c *Client) Updates() <-chan interface{} {
	return c.updates.ChanOut()
}

// Quit is closed once the server stops delivering to this client.
func (c *Client) Quit() <-chan struct{} {
	return c.quit
}

// Cancel ends the subscription.
func (c *Client) Cancel() {
	c.cancel()
}

// Config holds the server's dependencies.
type Config struct {
	// Clock stamps envelopes.
	Clock clock.Clock

	// RecentEvents is how many envelopes Recent returns at most.
	RecentEvents int
}

// Server fans ledger events out to any number of subscribed clients. It
// implements ledger.EventSink so it can be registered with the engine
// directly.
type Server struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	clientCounter uint64 // To be used atomically.

	cfg Config

	// seq is only touched by the handler goroutine.
	seq uint64

	recentMtx sync.Mutex
	recent    *queue.CircularBuffer

	clients       map[uint64]*Client
	clientUpdates chan *clientUpdate
	updates       chan ledger.Event

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile time check to ensure Server implements ledger.EventSink.
var _ ledger.EventSink = (*Server)(nil)

// clientUpdate registers or cancels a client.
type clientUpdate struct {
	cancel   bool
	clientID uint64
	client   *Client
}

// NewServer creates a server. Start must be called before events are
// delivered.
func NewServer(cfg *Config) (*Server, error) {
	c := *cfg
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.RecentEvents == 0 {
		c.RecentEvents = DefaultRecentEvents
	}

	recent, err := queue.NewCircularBuffer(c.RecentEvents)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:           c,
		recent:        recent,
		clients:       make(map[uint64]*Client),
		clientUpdates: make(chan *clientUpdate),
		updates:       make(chan ledger.Event),
		quit:          make(chan struct{}),
	}, nil
}

// Start launches the delivery goroutine.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return nil
	}

	log.Info("Event notifier starting")

	s.wg.Add(1)
	go s.eventHandler()

	return nil
}

// Stop terminates delivery and closes every client's quit channel.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return nil
	}

	log.Info("Event notifier shutting down")

	close(s.quit)
	s.wg.Wait()

	return nil
}

// Subscribe returns a client that receives every event notified from now
// on.
func (s *Server) Subscribe() (*Client, error) {
	clientID := atomic.AddUint64(&s.clientCounter, 1)

	client := &Client{
		updates: queue.NewConcurrentQueue(clientQueueSize),
		quit:    make(chan struct{}),
		cancel: func() {
			select {
			case s.clientUpdates <- &clientUpdate{
				cancel:   true,
				clientID: clientID,
			}:
			case <-s.quit:
			}
		},
	}

	select {
	case s.clientUpdates <- &clientUpdate{
		clientID: clientID,
		client:   client,
	}:
	case <-s.quit:
		return nil, ErrServerShuttingDown
	}

	return client, nil
}

// Notify hands a committed event to the server. Events notified before
// Start or after Stop are dropped.
func (s *Server) Notify(event ledger.Event) {
	if atomic.LoadUint32(&s.started) == 0 {
		log.Warnf("Dropping %v, notifier not started",
			event.EventName())
		return
	}

	select {
	case s.updates <- event:
	case <-s.quit:
	}
}

// Recent returns up to the configured number of most recent envelopes,
// oldest first.
func (s *Server) Recent() []*Envelope {
	s.recentMtx.Lock()
	defer s.recentMtx.Unlock()

	items := s.recent.List()
	envelopes := make([]*Envelope, 0, len(items))
	for _, item := range items {
		envelopes = append(envelopes, item.(*Envelope))
	}

	return envelopes
}

// eventHandler owns the client set and the sequence counter.
//
// NOTE: MUST be run as a goroutine.
func (s *Server) eventHandler() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.clientUpdates:
			if update.cancel {
				client, ok := s.clients[update.clientID]
				if ok {
					client.updates.Stop()
					close(client.quit)
					delete(s.clients, update.clientID)
				}

				continue
			}

			update.client.updates.Start()
			s.clients[update.clientID] = update.client

		case event := <-s.updates:
			s.seq++
			env := &Envelope{
				Seq:   s.seq,
				Time:  s.cfg.Clock.Now(),
				Event: event,
			}

			s.recentMtx.Lock()
			s.recent.Add(env)
			s.recentMtx.Unlock()

			log.Tracef("Delivering %v #%d to %d clients",
				event.EventName(), env.Seq, len(s.clients))

			for _, client := range s.clients {
				select {
				case client.updates.ChanIn() <- env:
				case <-client.quit:
				case <-s.quit:
					return
				}
			}

		case <-s.quit:
			for _, client := range s.clients {
				client.updates.Stop()
				close(client.quit)
			}

			return
		}
	}
}
