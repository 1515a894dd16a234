package mock

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

var (
	csrGreetings = []string{
		"Thank you for calling. How can I help you today?",
		"Good day! What seems to be the issue with your order?",
		"Hello, I'm here to assist you with your order concern.",
	}
	csrPartialRefunds = []string{
		"I can see your order. Unfortunately, I can only offer a $5 credit for this issue.",
		"Looking at your order, the best I can do is a partial refund of $8.",
		"I understand your concern, but our policy allows only $10 credit for this type of issue.",
	}
	csrFullRefunds = []string{
		"I understand your frustration. Let me process a full refund of $12 for your order.",
		"You're absolutely right. I'll approve the full refund of $15 for this inconvenience.",
		"I apologize for the issue. I'm processing a complete refund of $18 for your order.",
	}
	csrConfirmations = []string{
		"Your refund has been processed. Your confirmation code is REF-2024-001.",
		"Refund approved! Here's your confirmation code: REF-2024-002.",
		"All set! Your confirmation code is REF-2024-003.",
	}
)

// partialRefundRate is how often a refund request gets the low offer.
const partialRefundRate = 0.3

// CSR is a canned customer-service representative for exercising agent
// scripts without a live call.
type CSR struct {
	clock func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

type CSRReply struct {
	Response    string    `json:"response"`
	OrderNumber string    `json:"orderNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewCSR(seed int64) *CSR {
	return &CSR{clock: time.Now, rnd: rand.New(rand.NewSource(seed))}
}

func (c *CSR) Reply(message, orderNumber string) CSRReply {
	msg := strings.ToLower(message)

	c.mu.Lock()
	var pool []string
	switch {
	case strings.Contains(msg, "refund"), strings.Contains(msg, "return"):
		if c.rnd.Float64() < partialRefundRate {
			pool = csrPartialRefunds
		} else {
			pool = csrFullRefunds
		}
	case strings.Contains(msg, "confirmation"), strings.Contains(msg, "code"):
		pool = csrConfirmations
	default:
		pool = csrGreetings
	}
	resp := pool[c.rnd.Intn(len(pool))]
	c.mu.Unlock()

	return CSRReply{Response: resp, OrderNumber: orderNumber, Timestamp: c.clock().UTC()}
}
