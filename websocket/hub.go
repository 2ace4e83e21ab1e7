package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"netops/metrics"
	"netops/textfsm"
	"netops/utils"
)

// StreamKey identifies one shared device poller. Credential is a digest of
// the password, so only subscribers that log in with the same secret share a
// session; anyone else gets a poller of their own and authenticates.
type StreamKey struct {
	Host       string
	Username   string
	Interface  string
	Credential string
}

// NewStreamKey builds the key for a subscriber's login
func NewStreamKey(host, username, iface, password string) StreamKey {
	sum := sha256.Sum256([]byte(host + "\x00" + username + "\x00" + password))
	return StreamKey{
		Host:       host,
		Username:   username,
		Interface:  iface,
		Credential: hex.EncodeToString(sum[:]),
	}
}

// Subscriber is one WebSocket client following a stream
type Subscriber struct {
	ID       string
	Key      StreamKey
	Password string
	Kind     CounterKind
	Send     chan Update
}

// Poller reads interface counters from one device session
type Poller interface {
	Poll(ctx context.Context) ([]textfsm.Record, error)
	Close() error
}

// PollerFactory opens a device session for a stream. password is taken from
// the subscriber that started the stream.
type PollerFactory func(key StreamKey, password string) Poller

type stream struct {
	key    StreamKey
	subs   map[string]*Subscriber
	cancel context.CancelFunc
}

// Hub shares one poller per StreamKey across all subscribers of that key
type Hub struct {
	subscribers map[string]*Subscriber
	streams     map[StreamKey]*stream
	register    chan *Subscriber
	unregister  chan *Subscriber
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once

	newPoller PollerFactory
	interval  time.Duration
}

// NewHub creates a hub that polls every interval
func NewHub(factory PollerFactory, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		streams:     make(map[StreamKey]*stream),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
		newPoller:   factory,
		interval:    interval,
	}
}

// RegisterConnection schedules a subscriber to be added to the hub.
func (h *Hub) RegisterConnection(sub *Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.Send)
	}
}

// UnregisterConnection schedules a subscriber to be removed from the hub.
func (h *Hub) UnregisterConnection(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Run starts the Hub's main event loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.stopAll()
			return
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub)
		}
	}
}

// Close stops every poller. Subscribers still connected see their Send
// channel closed.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) add(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[sub.ID] = sub
	st, ok := h.streams[sub.Key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		st = &stream{key: sub.Key, subs: make(map[string]*Subscriber), cancel: cancel}
		h.streams[sub.Key] = st
		go h.poll(ctx, st, h.newPoller(sub.Key, sub.Password))
	}
	st.subs[sub.ID] = sub
	h.updateGauges()
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscribers[sub.ID]; !exists {
		return
	}
	delete(h.subscribers, sub.ID)
	if st, ok := h.streams[sub.Key]; ok {
		if _, member := st.subs[sub.ID]; member {
			delete(st.subs, sub.ID)
			if len(st.subs) == 0 {
				st.cancel()
				delete(h.streams, sub.Key)
			}
		}
	}
	close(sub.Send)
	h.updateGauges()
}

func (h *Hub) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, st := range h.streams {
		st.cancel()
		st.subs = map[string]*Subscriber{}
		delete(h.streams, key)
	}
	for id, sub := range h.subscribers {
		close(sub.Send)
		delete(h.subscribers, id)
	}
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	metrics.UpdateCounterStreams(len(h.subscribers))
	metrics.UpdateCounterPollers(len(h.streams))
}

// poll runs until the stream is cancelled or the device fails. A failure is
// delivered to every subscriber and ends the stream.
func (h *Hub) poll(ctx context.Context, st *stream, p Poller) {
	defer func() {
		if err := p.Close(); err != nil {
			utils.LogWarn("counter poller close", err, "host", st.key.Host)
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		rows, err := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			utils.LogWarn("counter poll", err, "host", st.key.Host, "interface", st.key.Interface)
			h.fail(st, err)
			return
		}
		h.broadcast(st, Update{Rows: rows})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// broadcast delivers u without blocking. A subscriber that has not drained
// its previous sample misses this one.
func (h *Hub) broadcast(st *stream, u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range st.subs {
		select {
		case sub.Send <- u:
		default:
		}
	}
}

// fail drops a broken stream so the next subscriber starts a fresh poller,
// then hands the error to every subscriber. Queued samples are discarded to
// make room, so a slow reader still learns the stream is over.
func (h *Hub) fail(st *stream, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st.cancel()
	if cur, ok := h.streams[st.key]; ok && cur == st {
		delete(h.streams, st.key)
		h.updateGauges()
	}

	u := Update{Err: err}
	for _, sub := range st.subs {
		for delivered := false; !delivered; {
			select {
			case sub.Send <- u:
				delivered = true
			default:
				select {
				case <-sub.Send:
				default:
				}
			}
		}
	}
}

// Subscribers returns how many clients follow key
func (h *Hub) Subscribers(key StreamKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.streams[key]; ok {
		return len(st.subs)
	}
	return 0
}

// Streams returns how many pollers are running
func (h *Hub) Streams() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}
