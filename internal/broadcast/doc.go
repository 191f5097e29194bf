// Package broadcast implements channel-based WebSocket fan-out.
//
// A Registry groups live connections by channel name. The Engine delivers a message to every
// connection in a channel, isolating failures per recipient. The Bridge relays published events
// over a cross-instance transport and runs one fan-in task per active channel that feeds
// received messages back into the Engine. Without a transport the Bridge delivers locally.
package broadcast
