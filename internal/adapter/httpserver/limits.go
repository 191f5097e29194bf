package httpserver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// LimitReason says which admission check refused a connection.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	bucketSweepGap = 5 * time.Minute
)

type AdmissionConfig struct {
	MaxTotal      int
	MaxPerAddress int
	// Rate and Burst shape how fast one address may open new sockets.
	Rate  float64
	Burst int
	Clock clockwork.Clock
}

// Admission decides whether a new WebSocket may be opened. It checks the
// address's connect rate first, then the instance-wide cap, then the
// per-address cap. All counters share one lock so a refusal never leaves a
// slot half taken.
type Admission struct {
	cfg   AdmissionConfig
	clock clockwork.Clock

	mu        sync.Mutex
	open      int
	byAddr    map[string]int
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewAdmission(cfg AdmissionConfig) *Admission {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Admission{
		cfg:       cfg,
		clock:     cfg.Clock,
		byAddr:    make(map[string]int),
		buckets:   make(map[string]*bucket),
		nextSweep: cfg.Clock.Now().Add(bucketSweepGap),
	}
}

// Admit takes a slot for addr. On success it returns a release func that
// is safe to call more than once; on refusal release is nil and reason
// names the check that failed.
func (a *Admission) Admit(addr string) (release func(), reason LimitReason) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.sweepBuckets(now)

	if !a.bucketFor(addr, now).AllowN(now, 1) {
		return nil, LimitReasonRate
	}
	if a.open >= a.cfg.MaxTotal {
		return nil, LimitReasonGlobal
	}
	if a.byAddr[addr] >= a.cfg.MaxPerAddress {
		return nil, LimitReasonPerIP
	}

	a.open++
	a.byAddr[addr]++

	var once sync.Once
	return func() { once.Do(func() { a.release(addr) }) }, ""
}

// Open is the number of admitted connections on this instance.
func (a *Admission) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// openFrom is the number of admitted connections from addr.
func (a *Admission) openFrom(addr string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byAddr[addr]
}

func (a *Admission) release(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.open--
	if n := a.byAddr[addr]; n > 1 {
		a.byAddr[addr] = n - 1
	} else {
		delete(a.byAddr, addr)
	}
}

func (a *Admission) bucketFor(addr string, now time.Time) *rate.Limiter {
	b, ok := a.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(a.cfg.Rate), a.cfg.Burst)}
		a.buckets[addr] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (a *Admission) sweepBuckets(now time.Time) {
	if now.Before(a.nextSweep) {
		return
	}
	cutoff := now.Add(-bucketIdleTTL)
	for addr, b := range a.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(a.buckets, addr)
		}
	}
	a.nextSweep = now.Add(bucketSweepGap)
}
