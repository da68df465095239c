/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains the JSON error envelope and helpers used to write REST API responses,
// including the "tooManyRequests" error returned for rejected requests.
package restapi
