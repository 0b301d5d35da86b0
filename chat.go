package chaty

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// EnvelopeTypeChatMessage tags chat payloads on the wire.
const EnvelopeTypeChatMessage = "chatMessage"

// ChannelData is anything that can travel through a chat channel.
type ChannelData interface {
	DataType() string
	Content() string
	CreatedAt() time.Time
}

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ParseContentType falls back to text for unknown values.
func ParseContentType(s string) ContentType {
	if ContentType(strings.ToLower(strings.TrimSpace(s))) == ContentTypeImage {
		return ContentTypeImage
	}
	return ContentTypeText
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// ChatMessage is a text or image message between two users.
type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Author         Author        `json:"author"`
	Body           string        `json:"content"`
	ContentType    ContentType   `json:"content_type"`
	SentAt         time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status"`
}

var _ ChannelData = ChatMessage{}

func (m ChatMessage) DataType() string     { return EnvelopeTypeChatMessage }
func (m ChatMessage) Content() string      { return m.Body }
func (m ChatMessage) CreatedAt() time.Time { return m.SentAt }

// NewChatMessage builds a sent message from author to receiverID.
func NewChatMessage(author Author, receiverID, content string, contentType ContentType, now time.Time) ChatMessage {
	return ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: ConversationID(author.ID, receiverID),
		Author:         author,
		Body:           content,
		ContentType:    contentType,
		SentAt:         now.UTC(),
		Status:         MessageStatusSent,
	}
}

// ConversationID is stable for a pair of users regardless of order. It is
// empty when either side is unknown or the pair cannot be hashed.
func ConversationID(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	pair := []string{a, b}
	sort.Strings(pair)
	id, err := hashid.NewUUID(strings.Join(pair, ":"))
	if err != nil {
		return ""
	}
	return id.String()
}

// Envelope wraps channel data with its type discriminator.
type Envelope struct {
	Data ChannelData
}

func NewEnvelope(data ChannelData) Envelope {
	return Envelope{Data: data}
}

func (e Envelope) Type() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.DataType()
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string      `json:"type"`
		Payload ChannelData `json:"payload"`
	}{
		Type:    e.Type(),
		Payload: e.Data,
	})
}

// ChatFanout routes chat envelopes to per user channels.
type ChatFanout struct {
	registry *ChannelRegistry[Envelope]
	logger   Logger
}

type ChatFanoutOption func(*ChatFanout)

func WithChatFanoutLogger(logger Logger) ChatFanoutOption {
	return func(f *ChatFanout) {
		f.logger = normalizeLogger(logger)
	}
}

func NewChatFanout(registry *ChannelRegistry[Envelope], opts ...ChatFanoutOption) *ChatFanout {
	if registry == nil {
		registry = NewChannelRegistry[Envelope]()
	}
	f := &ChatFanout{
		registry: registry,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Open establishes the channel for key and subscribes to it.
func (f *ChatFanout) Open(key string) *Receiver[Envelope] {
	if f.registry.EnsureChannel(key) {
		f.logger.Debug("chat channel created", "key", key)
	}
	rx, _ := f.registry.Subscribe(key)
	return rx
}

// Send publishes data to key. It never creates a channel: an unknown key
// returns ErrChannelNotFound. A channel with no listeners delivers to zero.
func (f *ChatFanout) Send(key string, data ChannelData) (int, error) {
	producer, ok := f.registry.Producer(key)
	if !ok {
		return 0, withMeta(ErrChannelNotFound, nil, map[string]any{"key": key})
	}

	n, err := producer.Send(NewEnvelope(data))
	if err != nil {
		if errors.Is(err, ErrNoSubscribers) {
			f.logger.Debug("chat message has no subscribers", "key", key, "type", data.DataType())
			return 0, nil
		}
		return 0, err
	}

	return n, nil
}

// Registry exposes the underlying registry.
func (f *ChatFanout) Registry() *ChannelRegistry[Envelope] {
	return f.registry
}
