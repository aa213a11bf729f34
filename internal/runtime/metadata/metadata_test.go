package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestNewSkipsEmptyValues(t *testing.T) {
	md := New(CorrelationIDKey, "key-1", ReplyToKey, "", "odd")
	assert.Equal(t, Metadata{CorrelationIDKey: "key-1"}, md)
}

func TestWithDoesNotAlias(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")

	assert.NotContains(t, base, "baz")
	assert.Equal(t, "qux", enriched["baz"])
	assert.Equal(t, "bar", enriched["foo"])
}

func TestApplyAndAccessors(t *testing.T) {
	msg := &message.Message{UUID: "m-1"}
	New(CorrelationIDKey, "key-1", ReplyToKey, "replies.abc").Apply(msg)

	assert.Equal(t, "key-1", CorrelationID(msg))
	assert.Equal(t, "replies.abc", ReplyTo(msg))

	New(CorrelationIDKey, "key-2").Apply(msg)
	assert.Equal(t, "key-2", CorrelationID(msg))
	assert.Equal(t, "replies.abc", ReplyTo(msg))
}

func TestAccessorsOnBareMessage(t *testing.T) {
	msg := message.NewMessage("m-1", nil)
	assert.Empty(t, CorrelationID(msg))
	assert.Empty(t, ReplyTo(msg))
}

func TestFromWatermillCopies(t *testing.T) {
	wm := message.Metadata{"event": "order"}
	md := FromWatermill(wm)
	md["event"] = "changed"

	assert.Equal(t, "order", wm["event"])
	assert.NotNil(t, FromWatermill(nil))
}

func TestCloneDoesNotAlias(t *testing.T) {
	original := New("a", "1")
	cloned := original.Clone()
	cloned["a"] = "2"

	assert.Equal(t, "1", original["a"])
	assert.Equal(t, "2", cloned["a"])
}
