// Package item provides the business boundary for itemdesk's help-request
// tracking. It defines the Engine (ordering and filtering of open items),
// Resolver (the authorized open -> resolved transition), Sweeper (retention
// purge of resolved items), Service (request-facing facade), the Store
// interface (persistence), and domain models.
package item
