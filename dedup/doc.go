/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package dedup provides coalescing of concurrent identical requests and short-TTL caching of their results.
package dedup
