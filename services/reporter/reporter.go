// services/reporter/reporter.go
package reporter

import (
	"context"
	"io"

	"rangenode-go/bus"
	"rangenode-go/types"
	"rangenode-go/x/conv"
	"rangenode-go/x/jsonx"
)

const DefaultBaud uint32 = 9600

var (
	topicConfigReporter = bus.T("config", "reporter")
	topicValues         = bus.T("hal", "cap", "range", "distance", "+", "value")
)

// Config arrives retained on config/reporter.
type Config struct {
	Baud uint32 `json:"baud,omitempty"`
}

// PortOpener turns a baud rate into the report sink. On rp2 builds this
// configures a UART; on the host it is stdout or a test buffer.
type PortOpener func(baud uint32) io.Writer

// Service prints one "Distance: N cm" line per distance value on the bus.
type Service struct {
	conn *bus.Connection
	open PortOpener

	w    io.Writer
	buf  [32]byte
	nbuf [20]byte
}

func New(conn *bus.Connection, open PortOpener) *Service {
	return &Service{conn: conn, open: open}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigReporter)
	valSub := s.conn.Subscribe(topicValues)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(valSub)

	s.w = s.open(DefaultBaud)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cfgSub.Channel():
			var cfg Config
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				continue
			}
			if cfg.Baud > 0 {
				s.w = s.open(cfg.Baud)
			}
		case msg := <-valSub.Channel():
			v, ok := msg.Payload.(types.RangeValue)
			if !ok {
				continue
			}
			s.report(v.DistanceCM)
		}
	}
}

func (s *Service) report(cm int32) {
	if s.w == nil {
		return
	}
	line := s.buf[:0]
	line = append(line, "Distance: "...)
	line = append(line, conv.Itoa(s.nbuf[:], int64(cm))...)
	line = append(line, " cm\n"...)
	s.w.Write(line)
}
