// Package catalog holds the namespaced view of every tool the connected
// providers expose.
//
// A tool is addressed by the identifier "<provider>__<tool>", so two
// providers may each offer a tool called "ping" without colliding. A Catalog
// value is an immutable snapshot: the supervisor builds a fresh one whenever
// a provider joins or leaves and publishes it atomically, so readers never
// observe a half-built catalog and never need a lock.
package catalog
