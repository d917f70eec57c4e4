/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package batch groups many small operations keyed by logical destination into single underlying calls.
package batch
