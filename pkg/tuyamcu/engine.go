// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// Transport is the serial link to the MCU. Reads go through the ByteSource
// methods; writes must not block for long.
type Transport interface {
	ByteSource
	io.Writer
	SetBaudRate(baud int) error
}

// Channels is the channel subsystem data points are applied to.
type Channels interface {
	Get(ch int) int
	Set(ch int, value int)
	Type(ch int) channels.Type
	SetAllOfType(t channels.Type, value int)
}

// Clock supplies the time sent to the MCU. ok is false when the time is
// not known yet.
type Clock interface {
	Now() (t time.Time, ok bool)
}

// ClockFunc adapts a function to Clock
type ClockFunc func() (time.Time, bool)

// Now implements Clock
func (f ClockFunc) Now() (time.Time, bool) { return f() }

// SystemClock reports the host's wall clock
var SystemClock Clock = ClockFunc(func() (time.Time, bool) { return time.Now(), true })

// Connectivity reports whether the module side network is up. The MCU is
// told WiFiStateCloud while it is, and the default WiFi state otherwise.
type Connectivity interface {
	Connected() bool
}

// ConnectivityFunc adapts a function to Connectivity
type ConnectivityFunc func() bool

// Connected implements Connectivity
func (f ConnectivityFunc) Connected() bool { return f() }

// AppliedDataPoint describes one inbound value written to the channels.
// Vendor raw quantities are written to every channel of a type and carry
// Channel == Unbound.
type AppliedDataPoint struct {
	Time          time.Time
	DataPointID   uint8
	DataPointType DataPointType
	Channel       int
	ChannelType   channels.Type
	WireValue     int
	Value         int
}

// Engine drives one TuyaMCU link. Tick and the Send/On methods must be
// called from a single goroutine; other goroutines hand work over with
// Submit or NotifyChannelChanged.
type Engine struct {
	transport    Transport
	channels     Channels
	registry     *Registry
	framer       *Framer
	stats        *Statistics
	logger       logrus.FieldLogger
	clock        Clock
	connectivity Connectivity

	dimmer           DimmerRange
	defaultWiFiState uint8
	baudRate         int
	maxFrameSize     int
	maxFramesPerTick int

	state LivenessState

	onPacket func(*Packet)
	onSend   func([]byte)
	onApply  func(AppliedDataPoint)
	onTick   func(LivenessState, Statistics)

	// cross-goroutine handoff, drained by Tick
	mu           sync.Mutex
	tasks        []func(*Engine)
	maxTasks     int
	pending      map[int]int
	pendingOrder []int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger. Entries carry feature=TuyaMCU.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the time source for SET_TIME replies
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithConnectivity sets the network state reported to the MCU
func WithConnectivity(c Connectivity) Option {
	return func(e *Engine) { e.connectivity = c }
}

// WithDimmerRange sets the MCU side dimmer range. Invalid ranges are
// ignored; use SetDimmerRange to get the error.
func WithDimmerRange(r DimmerRange) Option {
	return func(e *Engine) {
		if r.Validate() == nil {
			e.dimmer = r
		}
	}
}

// WithDefaultWiFiState sets the code reported while disconnected
func WithDefaultWiFiState(state uint8) Option {
	return func(e *Engine) { e.defaultWiFiState = state }
}

// WithBaudRate sets the link speed applied by Start
func WithBaudRate(baud int) Option {
	return func(e *Engine) { e.baudRate = baud }
}

// WithMaxFrameSize sets the largest accepted inbound frame
func WithMaxFrameSize(n int) Option {
	return func(e *Engine) { e.maxFrameSize = n }
}

// WithMaxFramesPerTick caps the frames processed by one Tick
func WithMaxFramesPerTick(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFramesPerTick = n
		}
	}
}

// WithTaskQueueSize bounds the Submit queue
func WithTaskQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTasks = n
		}
	}
}

// WithStatistics shares a statistics tracker with the engine
func WithStatistics(s *Statistics) Option {
	return func(e *Engine) { e.stats = s }
}

// WithPacketObserver is called with every valid inbound packet
func WithPacketObserver(fn func(*Packet)) Option {
	return func(e *Engine) { e.onPacket = fn }
}

// WithSendObserver is called with every frame written to the transport
func WithSendObserver(fn func([]byte)) Option {
	return func(e *Engine) { e.onSend = fn }
}

// WithApplyObserver is called for every inbound value written to a channel
func WithApplyObserver(fn func(AppliedDataPoint)) Option {
	return func(e *Engine) { e.onApply = fn }
}

// WithTickObserver is called at the end of every Tick with copies of the
// liveness state and statistics
func WithTickObserver(fn func(LivenessState, Statistics)) Option {
	return func(e *Engine) { e.onTick = fn }
}

// New creates an engine for one MCU link
func New(transport Transport, chans Channels, opts ...Option) *Engine {
	e := &Engine{
		transport:        transport,
		channels:         chans,
		registry:         NewRegistry(),
		clock:            SystemClock,
		connectivity:     ConnectivityFunc(func() bool { return false }),
		dimmer:           DefaultDimmerRange,
		defaultWiFiState: WiFiStateSmartConfig,
		baudRate:         DefaultBaudRate,
		maxFrameSize:     DefaultMaxFrameSize,
		maxFramesPerTick: MaxFramesPerTick,
		maxTasks:         DefaultTaskQueueSize,
		pending:          make(map[int]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	e.logger = e.logger.WithField("feature", "TuyaMCU")
	if e.stats == nil {
		e.stats = NewStatistics()
	}
	e.framer = NewFramer(e.maxFrameSize, e.logger, e.stats)
	return e
}

// Start configures the transport. It is called by Run; callers driving Tick
// themselves call it once first.
func (e *Engine) Start() error {
	if err := e.transport.SetBaudRate(e.baudRate); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", e.baudRate, err)
	}
	e.logger.Infof("TuyaMCU started at %d baud", e.baudRate)
	return nil
}

// Run starts the engine and ticks it every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if err := e.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one service cycle: queued tasks, inbound frames, then one
// handshake step.
func (e *Engine) Tick() {
	e.runTasks()
	e.processIncoming()
	e.runHandshake()

	if e.onTick != nil {
		e.onTick(e.state, *e.stats)
	}
}

// Submit queues fn to run at the start of the next Tick. It is safe to call
// from any goroutine.
func (e *Engine) Submit(fn func(*Engine)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.tasks) >= e.maxTasks {
		return ErrQueueFull
	}
	e.tasks = append(e.tasks, fn)
	return nil
}

func (e *Engine) runTasks() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()

	for _, fn := range tasks {
		fn(e)
	}
}

// NotifyChannelChanged records a channel change from any goroutine. Changes
// are coalesced per channel and sent once the handshake reaches steady state.
func (e *Engine) NotifyChannelChanged(ch int, value int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[ch]; !ok {
		e.pendingOrder = append(e.pendingOrder, ch)
	}
	e.pending[ch] = value
}

func (e *Engine) flushPending() {
	e.mu.Lock()
	if len(e.pendingOrder) == 0 {
		e.mu.Unlock()
		return
	}
	order := e.pendingOrder
	pending := e.pending
	e.pendingOrder = nil
	e.pending = make(map[int]int)
	e.mu.Unlock()

	for _, ch := range order {
		e.OnChannelChanged(ch, pending[ch])
	}
}

// Registry returns the data point table
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Bind links a data point to a channel (Unbound for none)
func (e *Engine) Bind(dpID uint8, dpType DataPointType, channel int) {
	e.registry.Bind(dpID, dpType, channel)
	e.logger.Infof("linked dpId %d (%s) to channel %d", dpID, dpType, channel)
}

// State returns a copy of the liveness state
func (e *Engine) State() LivenessState {
	return e.state
}

// Stats returns the engine's statistics tracker
func (e *Engine) Stats() *Statistics {
	return e.stats
}

// DimmerRange returns the MCU side dimmer range
func (e *Engine) DimmerRange() DimmerRange {
	return e.dimmer
}

// SetDimmerRange changes the MCU side dimmer range
func (e *Engine) SetDimmerRange(r DimmerRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.dimmer = r
	return nil
}

// SetDefaultWiFiState changes the code reported while disconnected
func (e *Engine) SetDefaultWiFiState(state uint8) {
	e.defaultWiFiState = state
}

// BaudRate returns the configured link speed
func (e *Engine) BaudRate() int {
	return e.baudRate
}

// SetBaudRate changes the link speed and applies it to the transport
func (e *Engine) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", baud)
	}
	e.baudRate = baud
	return e.Start()
}
