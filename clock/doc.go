/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package clock provides a time source abstraction.
// Production code uses the system clock, tests substitute Fake to control time deterministically.
package clock
