package correlation

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	rberrors "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/metadata"
)

// ReplyAddressTracker remembers the reply address announced by each inbound
// message until the reply is sent. There is no fallback address: a reply
// without a tracked address fails.
type ReplyAddressTracker struct {
	correlator Correlator
	addresses  *Store[string]
}

// NewReplyAddressTracker keys addresses with correlator, or by message UUID
// when correlator is nil.
func NewReplyAddressTracker(correlator Correlator, opts ...StoreOption) *ReplyAddressTracker {
	if correlator == nil {
		correlator = IdentityCorrelator{}
	}
	return &ReplyAddressTracker{
		correlator: correlator,
		addresses:  NewStore[string]("reply_addresses", opts...),
	}
}

// Track stores the reply_to header of msg under its correlation key and
// returns that key.
func (t *ReplyAddressTracker) Track(msg *message.Message) (string, error) {
	address := metadata.ReplyTo(msg)
	if address == "" {
		return "", fmt.Errorf("message %s: %w", msg.UUID, rberrors.ErrReplyAddressRequired)
	}

	key, err := t.correlator.CorrelationKey(msg)
	if err != nil {
		return "", err
	}

	t.Store(key, address)
	return key, nil
}

// Store records address under key. An empty address is dropped with a warning.
func (t *ReplyAddressTracker) Store(key, address string) {
	if address == "" {
		t.addresses.drop(key, "reply address is empty")
		return
	}
	t.addresses.Store(key, address)
}

// Resolve removes and returns the address for key. A missing address, including
// one already resolved, yields a *ReplyAddressMissingError.
func (t *ReplyAddressTracker) Resolve(key string) (string, error) {
	address, ok := t.addresses.Find(key)
	if !ok {
		return "", &rberrors.ReplyAddressMissingError{Key: key}
	}
	return address, nil
}

// Len reports how many addresses wait for a reply.
func (t *ReplyAddressTracker) Len() int {
	return t.addresses.Len()
}

// Clear forgets every tracked address.
func (t *ReplyAddressTracker) Clear() {
	t.addresses.Clear()
}
