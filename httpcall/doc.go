/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpcall maps HTTP responses and transport failures onto the retry error taxonomy.
package httpcall
