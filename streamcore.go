// Package streamcore is the root package of the streaming-core runtime:
// it exposes nothing but the ambient logging hook every other package
// calls through, the way the teacher's packages reach for a single
// package-level log function rather than threading a logger through
// every constructor.
package streamcore

import "log"

// Logger is the package-wide logging hook. It defaults to log.Printf and
// may be reassigned by an embedder before any other streamcore package
// is used, to route logs through their own sink.
var Logger = log.Printf
