package rcon

import (
	"fmt"
	"net"
	"time"
)

const (
	authRequestID    int32 = 1
	commandRequestID int32 = 2

	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 10 * time.Second
)

// Client issues commands to one game server identified by host:port:password.
// Every call opens its own TCP connection, so a Client carries no cross-call
// state and concurrent calls on one instance are safe.
type Client struct {
	host        string
	port        uint16
	password    string
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

func New(host string, port uint16, password string) *Client {
	return &Client{
		host:        host,
		port:        port,
		password:    password,
		dialTimeout: defaultDialTimeout,
		ioTimeout:   defaultIOTimeout,
	}
}

// SetTimeouts overrides the dial and per-operation I/O timeouts.
func (c *Client) SetTimeouts(dial, io time.Duration) {
	if dial > 0 {
		c.dialTimeout = dial
	}
	if io > 0 {
		c.ioTimeout = io
	}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
}

// Available reports whether the server accepts TCP connections on the rcon
// port. It performs no handshake.
func (c *Client) Available() bool {
	conn, err := net.DialTimeout("tcp", c.addr(), c.dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SendCommand opens a connection, authenticates, sends one command and
// returns the reassembled response body. Authentication failure aborts the
// call before any Command packet is written.
func (c *Client) SendCommand(command string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr(), c.dialTimeout)
	if err != nil {
		return "", &ConnectionError{Addr: c.addr(), Err: err}
	}
	defer func() { _ = conn.Close() }()

	reader := newPacketReader(conn)

	if err := c.authenticate(conn, reader); err != nil {
		return "", err
	}

	cmdPkt := Packet{RequestID: commandRequestID, Type: TypeCommand, Body: command}
	if err := c.write(conn, cmdPkt); err != nil {
		return "", err
	}
	resp, err := c.read(conn, reader)
	if err != nil {
		return "", err
	}
	if resp.RequestID != commandRequestID {
		return "", &ProtocolError{Reason: fmt.Sprintf("response request id %d does not match command id %d", resp.RequestID, commandRequestID)}
	}
	return resp.Body, nil
}

// authenticate performs the login handshake. The server signals success by
// echoing the auth request id; -1 or any other id means bad credentials.
func (c *Client) authenticate(conn net.Conn, reader *packetReader) error {
	authPkt := Packet{RequestID: authRequestID, Type: TypeAuth, Body: c.password}
	if err := c.write(conn, authPkt); err != nil {
		return err
	}
	resp, err := c.read(conn, reader)
	if err != nil {
		return err
	}
	if resp.RequestID != authRequestID {
		return ErrAuthFailed
	}
	return nil
}

func (c *Client) write(conn net.Conn, p Packet) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.ioTimeout))
	if _, err := conn.Write(p.Marshal()); err != nil {
		return &ConnectionError{Addr: c.addr(), Err: err}
	}
	return nil
}

func (c *Client) read(conn net.Conn, reader *packetReader) (Packet, error) {
	_ = conn.SetReadDeadline(time.Now().Add(c.ioTimeout))
	pkt, err := reader.next()
	if err != nil {
		if _, ok := err.(*ProtocolError); ok {
			return Packet{}, err
		}
		return Packet{}, &ConnectionError{Addr: c.addr(), Err: err}
	}
	return pkt, nil
}
