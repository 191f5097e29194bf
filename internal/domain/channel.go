package domain

import "github.com/google/uuid"

// ProductsChannel is the single catalog-wide channel.
const ProductsChannel = "products"

const orderChannelPrefix = "order_"

// ChannelKind tells the lifecycle controller which admission rules apply.
type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelOrder
	ChannelProducts
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelOrder:
		return "order"
	case ChannelProducts:
		return "products"
	default:
		return "unknown"
	}
}

// OrderChannel returns the channel name for a single order's updates.
func OrderChannel(orderID uuid.UUID) string {
	return orderChannelPrefix + orderID.String()
}
