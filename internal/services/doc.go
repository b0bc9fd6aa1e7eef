// package services implements the HTTP client for the streaming server's
// sync surface.
//
// The [API] interface is what the sync engine consumes; [Client] is the
// production implementation. All failures are classified into the shared
// taxonomy (network, unauthorized, pruned, client) so callers can decide
// between retry, recovery, and terminal handling without inspecting
// status codes themselves.
package services
