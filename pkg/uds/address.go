package uds

import (
	"fmt"
	"sort"

	"github.com/roffe/canbridge"
)

// ResponseOffset is the distance between a physical request id and its response id
const ResponseOffset = 8

func ResponseID(request uint32, extended bool) (uint32, error) {
	if !canbridge.ValidIdentifier(request, extended) || !canbridge.ValidIdentifier(request+ResponseOffset, extended) {
		return 0, fmt.Errorf("request id 0x%03X has no response id", request)
	}
	return request + ResponseOffset, nil
}

func RequestID(response uint32, extended bool) (uint32, error) {
	if response < ResponseOffset || !canbridge.ValidIdentifier(response, extended) {
		return 0, fmt.Errorf("response id 0x%03X has no request id", response)
	}
	return response - ResponseOffset, nil
}

// ECU is one queried control unit
type ECU struct {
	Name     string
	Request  uint32
	Extended bool
	Query    [8]byte
	// FIFO receives this ECU's responses
	FIFO    canbridge.FIFO
	Decoder string
}

// Response returns the identifier the ECU answers on
func (e ECU) Response() uint32 {
	return e.Request + ResponseOffset
}

func (e ECU) String() string {
	return fmt.Sprintf("%s 0x%03X/0x%03X", e.Name, e.Request, e.Response())
}

type tableKey struct {
	id       uint32
	extended bool
}

// Table maps response identifiers to ECUs. It is immutable once built.
type Table struct {
	ecus []ECU
	byRX map[tableKey]ECU
}

func NewTable(ecus ...ECU) (*Table, error) {
	t := &Table{
		byRX: make(map[tableKey]ECU, len(ecus)),
	}
	fifos := make(map[canbridge.FIFO]string)
	for _, e := range ecus {
		rx, err := ResponseID(e.Request, e.Extended)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		key := tableKey{rx, e.Extended}
		if other, dup := t.byRX[key]; dup {
			return nil, fmt.Errorf("%s and %s share request id 0x%03X", other.Name, e.Name, e.Request)
		}
		if other, dup := fifos[e.FIFO]; dup {
			return nil, fmt.Errorf("%s and %s share %s", other, e.Name, e.FIFO)
		}
		fifos[e.FIFO] = e.Name
		t.byRX[key] = e
		t.ecus = append(t.ecus, e)
	}
	return t, nil
}

// Lookup returns the ECU answering on id
func (t *Table) Lookup(id uint32, extended bool) (ECU, bool) {
	e, ok := t.byRX[tableKey{id, extended}]
	return e, ok
}

// ECUs returns the table in configuration order
func (t *Table) ECUs() []ECU {
	return append([]ECU(nil), t.ecus...)
}

// FIFOs returns the receive fifos in ascending order
func (t *Table) FIFOs() []canbridge.FIFO {
	out := make([]canbridge.FIFO, 0, len(t.ecus))
	for _, e := range t.ecus {
		out = append(out, e.FIFO)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
