// Package provider manages the connection to a single tool provider.
//
// A provider is either a local process speaking the Model Context Protocol
// over stdio or a remote endpoint reached over streamable HTTP or SSE. Each
// Connection is driven by exactly one goroutine (Run) which performs the
// handshake, discovers the tool list, serves calls and finally tears the
// session down. Stop only signals that goroutine, so the teardown path always
// runs no matter where cancellation arrives.
//
// State machine:
//
//	Connecting -> Ready <-> Serving -> Closing -> Closed
//	     \___________\_________\__________\____-> Failed
package provider
