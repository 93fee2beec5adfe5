package models

import "time"

type InboundItemBuilder struct {
	item *InboundItem
}

func NewInboundItemBuilder() *InboundItemBuilder {
	return &InboundItemBuilder{
		item: &InboundItem{},
	}
}

func (b *InboundItemBuilder) WithID(id string) *InboundItemBuilder {
	b.item.ID = id
	return b
}

func (b *InboundItemBuilder) WithBody(payload string) *InboundItemBuilder {
	b.item.Body = TextBody(payload)
	return b
}

func (b *InboundItemBuilder) WithEnvelope(env Envelope) *InboundItemBuilder {
	b.item.Body = env.Body
	b.item.Metadata.ApplyHeaders(env.Headers)
	return b
}

func (b *InboundItemBuilder) WithMetadata(metadata ItemMetadata) *InboundItemBuilder {
	b.item.Metadata = metadata
	return b
}

func (b *InboundItemBuilder) WithMessageID(messageID string) *InboundItemBuilder {
	b.item.Metadata.MessageID = messageID
	return b
}

func (b *InboundItemBuilder) WithExistingID(id string) *InboundItemBuilder {
	b.item.Metadata.ExistingID = id
	return b
}

func (b *InboundItemBuilder) WithTimestamp(timestamp time.Time) *InboundItemBuilder {
	b.item.Timestamp = timestamp
	return b
}

func (b *InboundItemBuilder) Build() *InboundItem {
	if b.item.Timestamp.IsZero() {
		b.item.Timestamp = time.Now()
	}
	return b.item
}
