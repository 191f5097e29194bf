// Package auth verifies access tokens and answers the authorization
// questions asked by the WebSocket and publish endpoints.
package auth
