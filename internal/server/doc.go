// Package server wires the account API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// security headers, CORS, rate limiting, and authentication so handlers all
// share common protections.
package server
