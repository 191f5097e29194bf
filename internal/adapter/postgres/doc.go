// Package postgres reads users, roles and orders for connection admission.
// The schema under migrations/ is the subset of the admin backend's tables
// this service depends on.
package postgres
