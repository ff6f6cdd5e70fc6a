package tcp

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/miekg/dns"
)

var errBadLength = errors.New("dns tcp: invalid message length")

func read(conn net.Conn) (resp *dns.Msg, err error) {
	var length uint16
	buf := mcache.Malloc(2 + dns.MaxMsgSize)
	defer mcache.Free(buf)
	if _, err = io.ReadFull(conn, buf[:2]); err != nil {
		return nil, err
	}
	if length = binary.BigEndian.Uint16(buf[:2]); length == 0 {
		return nil, errBadLength
	}
	if _, err = io.ReadFull(conn, buf[:length]); err != nil {
		return nil, err
	}

	resp = new(dns.Msg)
	if err = resp.Unpack(buf[:length]); err != nil {
		return nil, err
	}
	return resp, nil
}

func write(conn net.Conn, m *dns.Msg) (err error) {
	bytes, err := m.Pack()
	if err != nil {
		return err
	}
	buf := mcache.Malloc(2 + len(bytes))
	defer mcache.Free(buf)
	binary.BigEndian.PutUint16(buf, uint16(len(bytes)))
	n := copy(buf[2:], bytes)
	_, err = conn.Write(buf[:2+n])
	return err
}
