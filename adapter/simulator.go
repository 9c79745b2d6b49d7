package adapter

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/roffe/canbridge"
)

const (
	simResponseOffset = 8
	simFlowTimeout    = time.Second
)

// SimulatedECU answers read-data-by-identifier queries sent to Request with Response,
// an already formed UDS response payload (0x62, DID, data).
type SimulatedECU struct {
	Name     string
	Request  uint32
	Extended bool
	Response []byte
	// Silent ECUs receive queries but never answer
	Silent bool
	// StopAfterFirstFrame simulates an ECU that dies mid transfer
	StopAfterFirstFrame bool
}

// Simulator plays a set of ECUs on a Virtual controller
type Simulator struct {
	bus  *Virtual
	ecus map[uint32]*simECU
	wg   sync.WaitGroup
}

type simECU struct {
	SimulatedECU
	inbox chan *canbridge.CANFrame
}

func NewSimulator(bus *Virtual, ecus ...SimulatedECU) *Simulator {
	s := &Simulator{
		bus:  bus,
		ecus: make(map[uint32]*simECU),
	}
	for _, e := range ecus {
		s.ecus[e.Request] = &simECU{
			SimulatedECU: e,
			inbox:        make(chan *canbridge.CANFrame, 16),
		}
	}
	bus.OnTransmit(s.handle)
	return s
}

func (s *Simulator) handle(_ canbridge.FIFO, frame *canbridge.CANFrame) {
	e, ok := s.ecus[frame.Identifier]
	if !ok || e.Extended != frame.Extended {
		return
	}
	select {
	case e.inbox <- frame:
	default:
		log.Warnf("simulated %s dropped 0x%03X", e.Name, frame.Identifier)
	}
}

// Run serves queries until ctx is done
func (s *Simulator) Run(ctx context.Context) error {
	for _, e := range s.ecus {
		s.wg.Add(1)
		go func(e *simECU) {
			defer s.wg.Done()
			s.serve(ctx, e)
		}(e)
	}
	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *Simulator) serve(ctx context.Context, e *simECU) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-e.inbox:
			d := frame.Data
			if len(d) < 2 || d[0]>>4 != 0 || d[1] != 0x22 || e.Silent {
				continue
			}
			s.respond(ctx, e)
		}
	}
}

func (s *Simulator) respond(ctx context.Context, e *simECU) {
	id := e.Request + simResponseOffset
	payload := e.Response
	if len(payload) <= 7 {
		data := make([]byte, 8)
		data[0] = byte(len(payload))
		copy(data[1:], payload)
		s.inject(id, e.Extended, data)
		return
	}

	first := make([]byte, 8)
	binary.BigEndian.PutUint16(first, uint16(len(payload))&0x0FFF)
	first[0] |= 0x10
	n := copy(first[2:], payload)
	s.inject(id, e.Extended, first)
	if e.StopAfterFirstFrame {
		return
	}

	var fc *canbridge.CANFrame
	timeout := time.NewTimer(simFlowTimeout)
	defer timeout.Stop()
	for fc == nil {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			log.Warnf("simulated %s: no flow control", e.Name)
			return
		case f := <-e.inbox:
			if len(f.Data) >= 3 && f.Data[0]>>4 == 3 {
				fc = f
			}
		}
	}
	if fc.Data[0]&0x0F != 0 {
		return
	}
	stmin := time.Duration(fc.Data[2]) * time.Millisecond
	if fc.Data[2] > 0x7F {
		stmin = 0
	}

	var seq byte = 1
	for n < len(payload) {
		data := make([]byte, 8)
		data[0] = 0x20 | seq&0x0F
		n += copy(data[1:], payload[n:])
		if stmin > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(stmin):
			}
		}
		s.inject(id, e.Extended, data)
		seq++
	}
}

func (s *Simulator) inject(id uint32, extended bool, data []byte) {
	f := canbridge.NewFrame(id, data)
	f.Extended = extended
	s.bus.Inject(f)
}

// DemoResponse builds a plausible positive response for the named decoder so the
// virtual adapter has something to decode. Unknown names get a short payload.
func DemoResponse(decoder string, did uint16) []byte {
	head := []byte{0x62, byte(did >> 8), byte(did)}
	switch decoder {
	case "battery":
		d := make([]byte, 58)
		d[4] = 0xA0 // 80 %
		binary.BigEndian.PutUint16(d[5:], 2400)
		binary.BigEndian.PutUint16(d[7:], 1500)
		d[9] = 0x21 // AC charging, relay closed
		binary.BigEndian.PutUint16(d[10:], uint16(0xFF9C))
		binary.BigEndian.PutUint16(d[12:], 3712)
		d[14], d[15] = 24, 21
		for i := 16; i <= 20; i++ {
			d[i] = 22
		}
		d[22] = 20
		d[23], d[24], d[25], d[26] = 194, 12, 192, 77
		d[27], d[28], d[29] = 0, 0, 142
		binary.BigEndian.PutUint32(d[30:], 151234)
		binary.BigEndian.PutUint32(d[34:], 148800)
		binary.BigEndian.PutUint32(d[38:], 54321)
		binary.BigEndian.PutUint32(d[42:], 50210)
		binary.BigEndian.PutUint32(d[46:], 3600*420)
		d[50] = 0x04
		return append(head, d...)
	case "tpms":
		d := make([]byte, 21)
		for _, off := range []int{4, 9, 14, 19} {
			d[off] = 180  // 36 psi
			d[off+1] = 72 // 17 C
		}
		return append(head, d...)
	case "cabin":
		d := make([]byte, 12)
		d[5] = 124 // 22 C inside
		d[6] = 110 // 15 C outside
		d[7] = 96  // 8 C evaporator
		d[8] = 3
		d[9] = 45
		return append(head, d...)
	default:
		return append(head, 0x00)
	}
}
