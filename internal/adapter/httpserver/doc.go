// Package httpserver is the Echo HTTP surface: WebSocket subscription
// endpoints with admission control, the authenticated event publishing
// endpoints, and health, version and metrics routes.
package httpserver
