// Package domain holds the vocabulary of the realtime service: channel
// names, event envelopes, users and roles, orders, and the Transport and
// repository contracts that adapters implement.
//
// Only pure helpers live here. Anything that touches a socket, a database
// or a broker belongs in an adapter.
package domain
