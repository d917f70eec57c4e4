/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package apiguard provides a client-side resilience and throttling layer for outbound API calls:
// token-bucket admission limiting, request deduplication, batching, and retry with backoff,
// composed behind a single Guard entry point.
package apiguard
