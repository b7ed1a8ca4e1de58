// Package dispatch is the transport-agnostic request handler. App.Respond maps
// one request onto a response through a fixed, ordered set of cases (status
// page, stylesheet, listing, directory index, archive entry). App.Serve wraps
// it: it assigns the request a sequence number, emits the response through a
// single Emitter, and in a deferred block always writes the request and trace
// records, whether the handler succeeded, returned an error or panicked.
// Unexpected failures are also written to a per-exception file and then handed
// back to the transport.
package dispatch
