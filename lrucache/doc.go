/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a generic in-memory map with an optional LRU size bound,
// atomic get-or-add and predicate-based removal, instrumented with Prometheus metrics.
// It is used as the storage of a single shard of the admission key registry.
package lrucache
