// Package server hosts the Fiber HTTP binding: it resolves the Host header to a
// configured site, splits the URL at the archive segment into request URI and
// path info, and hands the result to the transport-agnostic dispatcher through
// a Fiber-backed Emitter. Diagnostics under /-/ bypass host routing.
package server
