// network/connection.go
package network

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HeaderSize is 2 bytes of message id followed by 4 bytes of payload length.
const HeaderSize = 6

type Packet struct {
	MsgID  uint16
	Data   []byte
	Length uint32
}

type Connection interface {
	Send(msgID uint16, data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadPacket() (*Packet, error)
}

// Encode frames a payload: 2字节消息ID + 4字节数据长度 + 数据
func Encode(msgID uint16, data []byte) []byte {
	packet := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint32(packet[2:6], uint32(len(data)))
	copy(packet[HeaderSize:], data)
	return packet
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, io.ErrShortBuffer
	}

	msgID := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint32(data[2:6])

	if uint64(len(data)) < uint64(HeaderSize)+uint64(length) {
		return nil, io.ErrShortBuffer
	}

	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   data[HeaderSize : HeaderSize+int(length)],
	}, nil
}

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(msgID uint16, data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	return c.conn.WriteMessage(websocket.BinaryMessage, Encode(msgID, data))
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	return Decode(data)
}

func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
