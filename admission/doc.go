/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package admission provides an in-memory, per-key request admission controller.
//
// Every key (e.g. client address + route) is bound on first use to a LimiterConfig
// (capacity, window and one of four algorithms: token bucket, leaky bucket, fixed window, sliding window log).
// Controller.TryAcquire answers whether a new request for the key may proceed.
// Keys are kept in a sharded registry, and entries that stay idle longer than the retention threshold
// are removed by a periodic sweeper, so the memory stays bounded even for an unbounded key space.
package admission
