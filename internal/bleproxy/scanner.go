package bleproxy

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
)

const (
	// DefaultAdvertisementTTL is how long an advertisement counts as current.
	DefaultAdvertisementTTL = 5 * time.Minute

	subscriberBufferSize = 16
)

// Scanner consumes advertisements relayed by the gateway. It keeps the
// latest advertisement per address and fans new ones out to subscribers.
type Scanner struct {
	transport Transport
	topics    mqtt.Topics
	ttl       time.Duration
	now       func() time.Time
	logger    Logger

	mu      sync.RWMutex
	started bool
	last    map[string]boneco.Advertisement
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	address string
	ch      chan boneco.Advertisement
}

// NewScanner creates a scanner. A non-positive ttl uses
// DefaultAdvertisementTTL.
func NewScanner(transport Transport, topics mqtt.Topics, ttl time.Duration) *Scanner {
	if ttl <= 0 {
		ttl = DefaultAdvertisementTTL
	}
	return &Scanner{
		transport: transport,
		topics:    topics,
		ttl:       ttl,
		now:       time.Now,
		logger:    noopLogger{},
		last:      make(map[string]boneco.Advertisement),
		subs:      make(map[int]*subscriber),
	}
}

// SetLogger sets the logger.
func (s *Scanner) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Start subscribes to the gateway advertisement topic.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.transport.Subscribe(s.topics.GatewayAdvertisement(), 0, s.handleAdvertisement); err != nil {
		return fmt.Errorf("subscribing to advertisements: %w", err)
	}
	s.started = true
	return nil
}

// Stop unsubscribes and closes every subscriber channel.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	_ = s.transport.Unsubscribe(s.topics.GatewayAdvertisement())
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}

func (s *Scanner) handleAdvertisement(_ string, payload []byte) error {
	var msg AdvertisementMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAdvertisement, err)
	}
	adv, err := msg.ToAdvertisement(s.now())
	if err != nil {
		return err
	}
	s.Observe(adv)
	return nil
}

// Observe records an advertisement and delivers it to matching
// subscribers. Subscribers that are not keeping up miss it.
func (s *Scanner) Observe(adv boneco.Advertisement) {
	if addr, err := boneco.NormalizeAddress(adv.Address); err == nil {
		adv.Address = addr
	}
	if adv.SeenAt.IsZero() {
		adv.SeenAt = s.now()
	}

	s.mu.Lock()
	s.last[adv.Address] = adv
	// Sends stay under the lock so Stop and cancel never close a channel
	// mid-send.
	for _, sub := range s.subs {
		if sub.address != "" && sub.address != adv.Address {
			continue
		}
		select {
		case sub.ch <- adv:
		default:
			s.logger.Debug("advertisement subscriber full, dropping", "address", adv.Address)
		}
	}
	s.mu.Unlock()
}

// Last returns the most recent advertisement for an address if it is
// within the TTL.
func (s *Scanner) Last(address string) (boneco.Advertisement, bool) {
	key, err := boneco.NormalizeAddress(address)
	if err != nil {
		key = strings.ToUpper(address)
	}
	s.mu.RLock()
	adv, ok := s.last[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(adv.SeenAt) > s.ttl {
		return boneco.Advertisement{}, false
	}
	return adv, true
}

// Discovered returns all current advertisements, sorted by address.
func (s *Scanner) Discovered() []boneco.Advertisement {
	now := s.now()
	s.mu.RLock()
	out := make([]boneco.Advertisement, 0, len(s.last))
	for _, adv := range s.last {
		if now.Sub(adv.SeenAt) <= s.ttl {
			out = append(out, adv)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b boneco.Advertisement) int {
		return strings.Compare(a.Address, b.Address)
	})
	return out
}

// Prune forgets advertisements older than the TTL and returns how many
// were removed.
func (s *Scanner) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for addr, adv := range s.last {
		if now.Sub(adv.SeenAt) > s.ttl {
			delete(s.last, addr)
			removed++
		}
	}
	return removed
}

// Subscribe returns a channel of advertisements for one address, or for
// every address when address is empty. The returned cancel function must
// be called to release the subscription.
func (s *Scanner) Subscribe(address string) (<-chan boneco.Advertisement, func()) {
	if address != "" {
		if addr, err := boneco.NormalizeAddress(address); err == nil {
			address = addr
		}
	}
	sub := &subscriber{address: address, ch: make(chan boneco.Advertisement, subscriberBufferSize)}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}
