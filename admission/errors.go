/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "errors"

// ErrInvalidConfig is returned (wrapped) when a limiter configuration is invalid:
// non-positive capacity or window, or an unknown algorithm.
// Rejection of a request by the limit is never reported as an error.
var ErrInvalidConfig = errors.New("invalid limiter configuration")
