package controller

import (
	"net"
	"sync"
	"time"

	"aoi/internal/station"
)

const writeTimeout = 5 * time.Second

// link is the controller's handle on one accepted station connection.
type link struct {
	id     station.ConnID
	conn   net.Conn
	remote string

	writeMu sync.Mutex
}

func newLink(id station.ConnID, conn net.Conn) *link {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &link{id: id, conn: conn, remote: remote}
}

func (l *link) ID() station.ConnID { return l.id }

func (l *link) RemoteAddr() string { return l.remote }

// Send writes payload with a bounded deadline so one stalled station cannot
// hold up a fan-out.
func (l *link) Send(payload []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := l.conn.Write(payload)
	_ = l.conn.SetWriteDeadline(time.Time{})
	return err
}

func (l *link) Close() error {
	return l.conn.Close()
}
