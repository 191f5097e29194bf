// Package app holds the use cases that sit between the HTTP handlers and the
// broadcast engine.
//
// Lifecycle admits a WebSocket connection onto an order or products channel
// and keeps it alive; Publisher validates and publishes business events.
package app
