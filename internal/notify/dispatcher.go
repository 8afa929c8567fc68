package notify

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CallbackPath is where devices deliver NOTIFY requests.
const CallbackPath = "/upnp/notify"

const (
	defaultBacklogSize = 64
	defaultBacklogTTL  = 30 * time.Second
)

var (
	// ErrDuplicateSubscription is returned when a SID is registered twice.
	ErrDuplicateSubscription = errors.New("subscription already registered")
	// ErrMissingSID is returned for notifications without a usable SID header.
	ErrMissingSID = errors.New("missing or malformed SID")
)

// Status is the outcome of a dispatched notification.
type Status int

const (
	// StatusDelivered means the owning target processed the notification.
	StatusDelivered Status = iota + 1
	// StatusPending means the SID is not registered yet and the payload was held.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Target receives notifications for one subscription. *upnp.Service implements it.
type Target interface {
	OnNotify(header http.Header, body []byte)
}

// Options configures a Dispatcher.
type Options struct {
	// CallbackBaseURL is the externally reachable base, e.g. http://192.168.1.20:9000.
	CallbackBaseURL string
	BacklogSize     int
	BacklogTTL      time.Duration
	Logger          *log.Logger
}

type pending struct {
	sid        string
	header     http.Header
	body       []byte
	receivedAt time.Time
}

// Dispatcher routes NOTIFY payloads to targets by SID. Payloads for SIDs that
// are not registered yet are held in a bounded backlog and replayed on Register.
type Dispatcher struct {
	callbackURL string
	backlogSize int
	backlogTTL  time.Duration
	logger      *log.Logger

	mu      sync.Mutex
	targets map[string]Target
	backlog []pending // arrival order
	// replaying holds notifications that arrived for a SID while its backlog
	// was being replayed. They are delivered after the replay, in order.
	replaying map[string][]pending
	stats     Stats

	now func() time.Time
}

// Stats reports dispatcher counters.
type Stats struct {
	Registered int `json:"registered"`
	Pending    int `json:"pending"`
	Delivered  int `json:"delivered"`
	Replayed   int `json:"replayed"`
	Dropped    int `json:"dropped"`
	Rejected   int `json:"rejected"`
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	size := opts.BacklogSize
	if size <= 0 {
		size = defaultBacklogSize
	}
	ttl := opts.BacklogTTL
	if ttl <= 0 {
		ttl = defaultBacklogTTL
	}
	return &Dispatcher{
		callbackURL: strings.TrimRight(opts.CallbackBaseURL, "/") + CallbackPath,
		backlogSize: size,
		backlogTTL:  ttl,
		logger:      logger,
		targets:     make(map[string]Target),
		replaying:   make(map[string][]pending),
		now:         time.Now,
	}
}

// CallbackURL returns the URL services subscribe with.
func (d *Dispatcher) CallbackURL() string {
	return d.callbackURL
}

// Register associates sid with target and replays any held notifications for it.
func (d *Dispatcher) Register(sid string, target Target) error {
	sid = strings.TrimSpace(sid)
	if !validSID(sid) {
		return ErrMissingSID
	}

	d.mu.Lock()
	if _, exists := d.targets[sid]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sid)
	}
	d.targets[sid] = target
	d.expireLocked()
	held := d.takeLocked(sid)
	d.stats.Replayed += len(held)
	if len(held) > 0 {
		d.replaying[sid] = nil
	}
	d.mu.Unlock()

	for _, p := range held {
		d.logger.Printf("NOTIFY: Replaying held event for %s (age %s)", sid, d.now().Sub(p.receivedAt).Round(time.Millisecond))
		target.OnNotify(p.header, p.body)
	}
	if len(held) > 0 {
		d.drainReplay(sid, target)
	}
	return nil
}

// drainReplay delivers notifications queued behind a replay until none are
// left, then lets Dispatch deliver directly again.
func (d *Dispatcher) drainReplay(sid string, target Target) {
	for {
		d.mu.Lock()
		queued, ok := d.replaying[sid]
		if !ok || len(queued) == 0 {
			delete(d.replaying, sid)
			d.mu.Unlock()
			return
		}
		d.replaying[sid] = nil
		d.mu.Unlock()

		for _, p := range queued {
			target.OnNotify(p.header, p.body)
		}
	}
}

// Unregister removes sid. Unknown SIDs are ignored.
func (d *Dispatcher) Unregister(sid string) {
	sid = strings.TrimSpace(sid)
	d.mu.Lock()
	delete(d.targets, sid)
	delete(d.replaying, sid)
	d.mu.Unlock()
}

// Registered reports whether sid has a target.
func (d *Dispatcher) Registered(sid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.targets[strings.TrimSpace(sid)]
	return ok
}

// Dispatch delivers a notification to its target, or holds it when the SID
// is not registered yet.
func (d *Dispatcher) Dispatch(header http.Header, body []byte) (Status, error) {
	sid := strings.TrimSpace(header.Get("SID"))
	if !validSID(sid) {
		d.mu.Lock()
		d.stats.Rejected++
		d.mu.Unlock()
		return 0, ErrMissingSID
	}

	d.mu.Lock()
	target, ok := d.targets[sid]
	if ok {
		d.stats.Delivered++
		if queued, replaying := d.replaying[sid]; replaying {
			d.replaying[sid] = append(queued, pending{
				sid:        sid,
				header:     header.Clone(),
				body:       append([]byte(nil), body...),
				receivedAt: d.now(),
			})
			d.mu.Unlock()
			return StatusDelivered, nil
		}
		d.mu.Unlock()
		target.OnNotify(header, body)
		return StatusDelivered, nil
	}

	d.expireLocked()
	if len(d.backlog) >= d.backlogSize {
		dropped := d.backlog[0]
		d.backlog = d.backlog[1:]
		d.stats.Dropped++
		d.logger.Printf("NOTIFY: Backlog full, dropping oldest event for %s", dropped.sid)
	}
	d.backlog = append(d.backlog, pending{
		sid:        sid,
		header:     header.Clone(),
		body:       append([]byte(nil), body...),
		receivedAt: d.now(),
	})
	d.mu.Unlock()

	d.logger.Printf("NOTIFY: Holding event for unregistered SID %s", sid)
	return StatusPending, nil
}

// Sweep drops held notifications older than the backlog TTL and returns how many were removed.
func (d *Dispatcher) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expireLocked()
}

// Schedule runs Sweep on the given cron schedule.
func (d *Dispatcher) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		if n := d.Sweep(); n > 0 {
			d.logger.Printf("NOTIFY: Expired %d held events", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule backlog sweep %q: %w", spec, err)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Registered = len(d.targets)
	s.Pending = len(d.backlog)
	return s
}

// expireLocked drops expired entries from the front of the backlog.
func (d *Dispatcher) expireLocked() int {
	cutoff := d.now().Add(-d.backlogTTL)
	n := 0
	for n < len(d.backlog) && d.backlog[n].receivedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		d.backlog = d.backlog[n:]
		d.stats.Dropped += n
	}
	return n
}

// takeLocked removes and returns the held entries for sid in arrival order.
func (d *Dispatcher) takeLocked(sid string) []pending {
	var held []pending
	kept := d.backlog[:0]
	for _, p := range d.backlog {
		if p.sid == sid {
			held = append(held, p)
			continue
		}
		kept = append(kept, p)
	}
	d.backlog = kept
	return held
}

func validSID(sid string) bool {
	return strings.HasPrefix(sid, "uuid:") && len(sid) > len("uuid:")
}
