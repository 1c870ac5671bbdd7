package toolrpc

import "io"

// Transport is the duplex byte stream a provider process is reached over.
// Messages are framed as newline-delimited JSON; how the stream comes to
// exist (process spawning, pipes, sockets) is the caller's concern.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}
