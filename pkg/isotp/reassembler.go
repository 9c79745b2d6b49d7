package isotp

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/canbridge"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("isotp")

const (
	DefaultCapacity          = 64
	DefaultMaxSessions       = 8
	DefaultTimeout           = time.Second
	DefaultFlowControlOffset = 8
	DefaultSTmin             = 10
)

type Config struct {
	// BlockSize is announced in flow control, 0 lets the sender finish without further flow control
	BlockSize uint8
	// STmin is the minimum consecutive frame separation announced in flow control
	STmin   uint8
	Padding byte
	// Capacity is the largest transfer accepted
	Capacity    int
	MaxSessions int
	// Timeout is N_Cr, the longest gap allowed between frames of one transfer
	Timeout time.Duration
	// FlowControlOffset is subtracted from the source identifier to address flow control
	FlowControlOffset uint32
	// TxFIFO carries flow control frames
	TxFIFO canbridge.FIFO
}

func DefaultConfig() Config {
	return Config{
		STmin:             DefaultSTmin,
		Capacity:          DefaultCapacity,
		MaxSessions:       DefaultMaxSessions,
		Timeout:           DefaultTimeout,
		FlowControlOffset: DefaultFlowControlOffset,
		TxFIFO:            1,
	}
}

// Transmitter sends flow control frames, satisfied by canbridge.Controller
type Transmitter interface {
	Transmit(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error
}

// Observer is told about irregularities that do not fail a transfer
type Observer interface {
	SequenceGap(source uint32, want, got uint8)
	SessionAborted(source uint32, reason Reason)
}

type nopObserver struct{}

func (nopObserver) SequenceGap(uint32, uint8, uint8) {}
func (nopObserver) SessionAborted(uint32, Reason)    {}

// Message is a completed transfer
type Message struct {
	Source   uint32
	Extended bool
	FIFO     canbridge.FIFO
	Payload  []byte
}

type sessionKey struct {
	id       uint32
	extended bool
}

type session struct {
	key      sessionKey
	fifo     canbridge.FIFO
	length   int
	buf      []byte
	next     uint8
	block    uint8
	started  time.Time
	deadline time.Time
}

// Reassembler keeps one transfer in progress per source identifier. It is driven by a
// single receive goroutine and is not safe for concurrent use.
type Reassembler struct {
	cfg      Config
	tx       Transmitter
	obs      Observer
	now      func() time.Time
	sessions map[sessionKey]*session
	order    []sessionKey
}

// New returns a reassembler sending flow control through tx. Zero Capacity, MaxSessions,
// Timeout and FlowControlOffset take their defaults. A zero STmin or BlockSize is sent as
// is, so start from DefaultConfig to get the default separation time.
func New(cfg Config, tx Transmitter, obs Observer) *Reassembler {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FlowControlOffset == 0 {
		cfg.FlowControlOffset = def.FlowControlOffset
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Reassembler{
		cfg:      cfg,
		tx:       tx,
		obs:      obs,
		now:      time.Now,
		sessions: make(map[sessionKey]*session, cfg.MaxSessions),
	}
}

// Feed processes one received frame. It returns the completed message, if this frame
// finished one. Flow control is transmitted from within Feed for first frames.
func (r *Reassembler) Feed(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) (*Message, error) {
	key := sessionKey{id: frame.Identifier, extended: frame.Extended}
	kind, ok := Classify(frame.Data)
	if !ok {
		return nil, &FramingError{Source: key.id, Err: ErrEmptyFrame}
	}
	switch kind {
	case SingleFrame:
		return r.single(key, fifo, frame.Data)
	case FirstFrame:
		return nil, r.first(ctx, key, fifo, frame.Data)
	case ConsecutiveFrame:
		return r.consecutive(ctx, key, frame.Data)
	default:
		// flow control is only meaningful to senders
		return nil, nil
	}
}

func (r *Reassembler) single(key sessionKey, fifo canbridge.FIFO, data []byte) (*Message, error) {
	if _, busy := r.sessions[key]; busy {
		r.abort(key, ReasonInterrupted)
	}
	n := int(data[0] & 0x0F)
	if n > len(data)-1 {
		return nil, &FramingError{Source: key.id, Err: fmt.Errorf("%w: %d > %d", ErrInvalidSingleFrame, n, len(data)-1)}
	}
	payload := make([]byte, n)
	copy(payload, data[1:1+n])
	return &Message{Source: key.id, Extended: key.extended, FIFO: fifo, Payload: payload}, nil
}

func (r *Reassembler) first(ctx context.Context, key sessionKey, fifo canbridge.FIFO, data []byte) error {
	if _, busy := r.sessions[key]; busy {
		r.abort(key, ReasonInterrupted)
	}
	if len(data) < 2 {
		return &FramingError{Source: key.id, Err: fmt.Errorf("%w: %d bytes", ErrInvalidFirstFrame, len(data))}
	}
	length := FirstFrameLength(data)
	if length <= 7 {
		return &FramingError{Source: key.id, Err: fmt.Errorf("%w: length %d fits a single frame", ErrInvalidFirstFrame, length)}
	}
	if length > r.cfg.Capacity {
		if err := r.flowControl(ctx, key, FlowOverflow); err != nil {
			log.WithError(err).Warnf("0x%03X: overflow flow control", key.id)
		}
		return &FramingError{Source: key.id, Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLong, length, r.cfg.Capacity)}
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return &FramingError{Source: key.id, Err: ErrTooManySessions}
	}

	now := r.now()
	s := &session{
		key:      key,
		fifo:     fifo,
		length:   length,
		buf:      make([]byte, 0, length),
		next:     1,
		started:  now,
		deadline: now.Add(r.cfg.Timeout),
	}
	s.buf = appendClamped(s.buf, data[2:], length)
	r.sessions[key] = s
	r.order = append(r.order, key)
	log.Debugf("0x%03X: first frame, %d bytes on %s", key.id, length, fifo)

	if err := r.flowControl(ctx, key, FlowContinueToSend); err != nil {
		r.abort(key, ReasonFlowControl)
		return err
	}
	return nil
}

func (r *Reassembler) consecutive(ctx context.Context, key sessionKey, data []byte) (*Message, error) {
	s, ok := r.sessions[key]
	if !ok {
		return nil, &FramingError{Source: key.id, Err: ErrUnexpectedConsecutiveFrame}
	}
	seq := data[0] & 0x0F
	if seq != s.next {
		log.Debugf("0x%03X: sequence %d, want %d", key.id, seq, s.next)
		r.obs.SequenceGap(key.id, s.next, seq)
	}
	s.next = (seq + 1) & 0x0F
	s.buf = appendClamped(s.buf, data[1:], s.length)
	s.deadline = r.now().Add(r.cfg.Timeout)

	if len(s.buf) >= s.length {
		r.remove(key)
		return &Message{Source: key.id, Extended: key.extended, FIFO: s.fifo, Payload: s.buf}, nil
	}

	if r.cfg.BlockSize > 0 {
		s.block++
		if s.block == r.cfg.BlockSize {
			s.block = 0
			if err := r.flowControl(ctx, key, FlowContinueToSend); err != nil {
				r.abort(key, ReasonFlowControl)
				return nil, err
			}
		}
	}
	return nil, nil
}

func (r *Reassembler) flowControl(ctx context.Context, key sessionKey, status FlowStatus) error {
	if key.id < r.cfg.FlowControlOffset {
		return &FramingError{Source: key.id, Err: ErrFlowControlTarget}
	}
	fc := canbridge.NewFrame(key.id-r.cfg.FlowControlOffset, FlowControlFrame(status, r.cfg.BlockSize, r.cfg.STmin, r.cfg.Padding))
	fc.Extended = key.extended
	if err := r.tx.Transmit(ctx, r.cfg.TxFIFO, fc); err != nil {
		return fmt.Errorf("flow control to 0x%03X: %w", fc.Identifier, err)
	}
	return nil
}

// appendClamped appends src to dst without growing past limit
func appendClamped(dst, src []byte, limit int) []byte {
	room := limit - len(dst)
	if room <= 0 {
		return dst
	}
	if len(src) > room {
		src = src[:room]
	}
	return append(dst, src...)
}

// Pinned returns the fifo of the oldest transfer in progress
func (r *Reassembler) Pinned() (canbridge.FIFO, bool) {
	if len(r.order) == 0 {
		return canbridge.NoFIFO, false
	}
	return r.sessions[r.order[0]].fifo, true
}

// Expire aborts transfers that have not seen a frame within the timeout
func (r *Reassembler) Expire(now time.Time) int {
	var stale []sessionKey
	for _, key := range r.order {
		if now.After(r.sessions[key].deadline) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		log.Warnf("0x%03X: transfer timed out after %s", key.id, now.Sub(r.sessions[key].started).Round(time.Millisecond))
		r.abort(key, ReasonTimeout)
	}
	return len(stale)
}

// NextDeadline returns the earliest session deadline
func (r *Reassembler) NextDeadline() (time.Time, bool) {
	var next time.Time
	for _, key := range r.order {
		d := r.sessions[key].deadline
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next, !next.IsZero()
}

// Reset drops every transfer in progress
func (r *Reassembler) Reset() int {
	n := len(r.order)
	for len(r.order) > 0 {
		r.abort(r.order[0], ReasonReset)
	}
	return n
}

// Sessions returns the number of transfers in progress
func (r *Reassembler) Sessions() int {
	return len(r.sessions)
}

func (r *Reassembler) abort(key sessionKey, reason Reason) {
	if _, ok := r.sessions[key]; !ok {
		return
	}
	r.remove(key)
	r.obs.SessionAborted(key.id, reason)
}

func (r *Reassembler) remove(key sessionKey) {
	delete(r.sessions, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
