package media

import (
	"net"

	"github.com/pion/rtp"
)

const maxPacket = 1500

// UDPSource reads RTP datagrams, e.g. from
// ffmpeg -re -i movie.mp4 -c:v libvpx -f rtp rtp://127.0.0.1:5004
type UDPSource struct {
	conn *net.UDPConn
	buf  []byte
}

func ListenUDP(addr string) (*UDPSource, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	return &UDPSource{conn: conn, buf: make([]byte, maxPacket)}, nil
}

func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSource) ReadRTP() (*rtp.Packet, error) {
	for {
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(s.buf[:n]); err != nil {
			continue
		}
		return pkt, nil
	}
}

func (s *UDPSource) Close() error { return s.conn.Close() }
