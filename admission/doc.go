/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package admission provides a token-bucket gate with priority-ordered waiting for outgoing calls.
package admission
