package server

// ConnectHandler is called once for every accepted connection, right after it is registered.
type ConnectHandler func(c *Conn)

// DataHandler consumes one message. A non-nil error closes the connection it came from.
// The slice is owned by the handler.
type DataHandler func(msg []byte) error
