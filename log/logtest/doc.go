/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides loggers for tests: Recorder keeps logged entries in memory for assertions,
// and NewLogger writes JSON entries to stderr.
package logtest
