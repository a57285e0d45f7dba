package qa

import (
	"sync"
	"time"
)

type Reason string

const (
	ReasonLowConfidenceMatch Reason = "low-confidence-match"
	ReasonMultiMatch         Reason = "multi-match"
	ReasonPermanentFailure   Reason = "permanent-fetch-failure"
	ReasonCaptchaExhausted   Reason = "captcha-exhausted"
)

// Flag marks a product or image that needs manual attention.
type Flag struct {
	ProductID string    `json:"product_id"`
	ImageID   string    `json:"image_id,omitempty"`
	Reason    Reason    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector aggregates flags across the fetch and imaging pools. Append-only,
// no deduplication: the same product can carry several flags with different
// reasons.
type Collector struct {
	mu    sync.Mutex
	flags []Flag
}

func NewCollector() *Collector {
	return &Collector{flags: make([]Flag, 0)}
}

func (c *Collector) Record(flag Flag) {
	if flag.Timestamp.IsZero() {
		flag.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = append(c.flags, flag)
}

// Drain returns the full ordered sequence for report generation.
func (c *Collector) Drain() []Flag {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Flag, len(c.flags))
	copy(out, c.flags)
	return out
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flags)
}
