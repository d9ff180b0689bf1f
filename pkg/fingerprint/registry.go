package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Characteristics is the immutable attribute snapshot a device identity is
// derived from. Map keys are attribute names, values the observed header or
// network values.
type Characteristics map[string]string

// FromRequest collects the attributes used for device identification.
func FromRequest(r *http.Request) Characteristics {
	return Characteristics{
		"user_agent":      r.Header.Get("User-Agent"),
		"accept_language": r.Header.Get("Accept-Language"),
		"accept_encoding": r.Header.Get("Accept-Encoding"),
		"accept":          r.Header.Get("Accept"),
		"ip":              clientIP(r.RemoteAddr),
	}
}

func clientIP(remoteAddr string) string {
	if idx := strings.LastIndex(remoteAddr, ":"); idx > 0 && strings.Count(remoteAddr, ":") == 1 {
		return remoteAddr[:idx]
	}
	if strings.HasPrefix(remoteAddr, "[") {
		if idx := strings.Index(remoteAddr, "]"); idx > 0 {
			return remoteAddr[1:idx]
		}
	}
	return remoteAddr
}

// Identify hashes a canonicalized characteristics map into a stable device
// identity. The hash is order-independent across map iteration.
func Identify(chars Characteristics) string {
	keys := make([]string, 0, len(chars))
	for k := range chars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(chars[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Device struct {
	FirstSeen       time.Time
	LastSeen        time.Time
	Count           int
	TrustScore      float64
	Suspicious      bool
	Characteristics Characteristics
}

// Registry tracks device fingerprints and their trust scores. Size is capped:
// once MaxEntries is exceeded the entry with the oldest last-seen time is
// evicted.
type Registry struct {
	mu         sync.Mutex
	devices    map[string]*Device
	maxEntries int
	now        func() time.Time
}

const (
	initialTrustScore = 0.5
	defaultMaxEntries = 10000
)

func NewRegistry(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Registry{
		devices:    make(map[string]*Device),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Observe records a sighting of the fingerprint, creating the device record
// on first sight with a neutral trust score.
func (r *Registry) Observe(id string, chars Characteristics) {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if !ok {
		if len(r.devices) >= r.maxEntries {
			r.evictOldestLocked()
		}
		snapshot := make(Characteristics, len(chars))
		for k, v := range chars {
			snapshot[k] = v
		}
		r.devices[id] = &Device{
			FirstSeen:       now,
			LastSeen:        now,
			Count:           1,
			TrustScore:      initialTrustScore,
			Characteristics: snapshot,
		}
		return
	}
	dev.Count++
	dev.LastSeen = now
}

// EvaluateTrust recomputes the trust score for a fingerprint and persists it
// back as the new base score. Unknown fingerprints score zero.
func (r *Registry) EvaluateTrust(id string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if !ok {
		return 0.0
	}
	score := dev.TrustScore
	switch {
	case dev.Count > 100:
		score += 0.2
	case dev.Count > 50:
		score += 0.1
	case dev.Count > 10:
		score += 0.05
	}
	ua := strings.ToLower(dev.Characteristics["user_agent"])
	if strings.Contains(ua, "bot") || strings.Contains(ua, "crawler") {
		score -= 0.2
	}
	if dev.Suspicious {
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	dev.TrustScore = score
	return score
}

// MarkSuspicious flags the device so subsequent trust evaluations are
// penalized.
func (r *Registry) MarkSuspicious(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[id]; ok {
		dev.Suspicious = true
	}
}

// Get returns a copy of the device record.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, dev := range r.devices {
		if oldestID == "" || dev.LastSeen.Before(oldest) {
			oldestID = id
			oldest = dev.LastSeen
		}
	}
	if oldestID != "" {
		delete(r.devices, oldestID)
	}
}
