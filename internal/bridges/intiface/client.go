package intiface

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/motion-core/internal/playback"
)

// Default connection settings.
const (
	// DefaultURL is the Intiface Central default websocket endpoint.
	DefaultURL = "ws://127.0.0.1:12345"

	// DefaultClientName is sent in RequestServerInfo.
	DefaultClientName = "motioncore"

	// AnyDevice selects the lowest-indexed linear device.
	AnyDevice = -1

	// defaultReconnectDelay is the wait between connection attempts.
	defaultReconnectDelay = 5 * time.Second

	// defaultRequestTimeout bounds how long a request waits for its reply.
	defaultRequestTimeout = 5 * time.Second

	// defaultDialTimeout bounds the websocket handshake.
	defaultDialTimeout = 10 * time.Second

	// readyBacklog is how many readiness transitions may queue behind a
	// slow callback before the read loop waits.
	readyBacklog = 16
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds Intiface connection settings.
type Config struct {
	// URL is the server websocket endpoint.
	// Default: ws://127.0.0.1:12345.
	URL string

	// ClientName identifies this client to the server.
	ClientName string

	// DeviceIndex pins the device to drive. AnyDevice picks the first
	// linear-capable device.
	DeviceIndex int

	// ScanOnConnect starts a device scan after the handshake.
	ScanOnConnect bool

	// ReconnectDelay is the wait between connection attempts.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// RequestTimeout bounds how long a request waits for its reply.
	// Default: 5 seconds.
	RequestTimeout time.Duration
}

// Info is a snapshot of the link.
type Info struct {
	URL        string   `json:"url"`
	Connected  bool     `json:"connected"`
	Ready      bool     `json:"ready"`
	ServerName string   `json:"server_name,omitempty"`
	Device     *Device  `json:"device,omitempty"`
	Devices    []Device `json:"devices"`
	Commands   uint64   `json:"commands_sent"`
	Errors     uint64   `json:"errors"`
	Reconnects uint64   `json:"reconnects"`
}

// Link is a Buttplug client that drives one linear device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The readiness callback is invoked outside internal locks and never
//     on the read goroutine, so it may call back into a playback sink.
type Link struct {
	cfg    Config
	logger Logger
	dialer *websocket.Dialer

	// Connection state
	mu         sync.RWMutex
	conn       *websocket.Conn
	sessDone   chan struct{}
	serverName string
	devices    map[uint32]Device
	ready      bool
	readyQ     chan bool // per connection; nil between connections

	// One writer at a time per gorilla connection.
	writeMu sync.Mutex

	// Outstanding requests by Id.
	pendingMu sync.Mutex
	pending   map[uint32]chan Message
	nextID    atomic.Uint32

	onReady    func(bool)
	callbackMu sync.RWMutex

	commandsSent atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
}

// Ensure Link satisfies the scheduler's sink.
var _ playback.Sink = (*Link)(nil)

// New creates an unconnected link. Call Run to connect.
func New(cfg Config, logger Logger) *Link {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Link{
		cfg:     cfg,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		devices: make(map[uint32]Device),
		pending: make(map[uint32]chan Message),
	}
}

// SetOnReadyChange registers a callback for readiness transitions.
func (l *Link) SetOnReadyChange(callback func(ready bool)) {
	l.callbackMu.Lock()
	defer l.callbackMu.Unlock()
	l.onReady = callback
}

// Name returns the driver name.
func (l *Link) Name() string {
	return "intiface"
}

// Ready reports whether a linear device is attached.
func (l *Link) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// Detail returns the link snapshot.
func (l *Link) Detail() any {
	return l.Info()
}

// Info returns a snapshot of the link state.
func (l *Link) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info := Info{
		URL:        l.cfg.URL,
		Connected:  l.conn != nil,
		Ready:      l.ready,
		ServerName: l.serverName,
		Devices:    sortedDevices(l.devices),
		Commands:   l.commandsSent.Load(),
		Errors:     l.errorsTotal.Load(),
		Reconnects: l.reconnects.Load(),
	}
	if d, ok := l.selectedLocked(); ok {
		info.Device = &d
	}
	return info
}

// Run keeps the link connected until ctx is cancelled. It always returns nil
// once ctx is done.
func (l *Link) Run(ctx context.Context) error {
	first := true
	for {
		if !first {
			l.reconnects.Add(1)
		}
		first = false

		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil //nolint:nilerr // shutdown is not a failure
		}
		l.logger.Warn("intiface link down", "url", l.cfg.URL, "error", err, "retry_in", l.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to disconnect.
func (l *Link) session(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}

	done := make(chan struct{})
	readyQ := make(chan bool, readyBacklog)
	l.mu.Lock()
	l.conn = conn
	l.sessDone = done
	l.readyQ = readyQ
	l.mu.Unlock()

	notified := make(chan struct{})
	go func() {
		defer close(notified)
		for ready := range readyQ {
			l.emitReady(ready)
		}
	}()

	readErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- l.readLoop(conn)
	}()

	defer func() {
		conn.Close()
		close(done)
		wg.Wait()

		l.mu.Lock()
		l.readyQ = nil
		l.mu.Unlock()
		close(readyQ)
		<-notified

		l.teardown()
	}()

	pingEvery, err := l.handshake(ctx)
	if err != nil {
		return err
	}

	if pingEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.pingLoop(done, pingEvery)
		}()
	}

	select {
	case <-ctx.Done():
		l.writeClose(conn)
		return ctx.Err()
	case err := <-readErr:
		return err
	}
}

// handshake exchanges server info and the device list. It returns the ping
// interval the server requires, or 0.
func (l *Link) handshake(ctx context.Context) (time.Duration, error) {
	reply, err := l.request(ctx, &RequestServerInfo{
		ClientName:     l.cfg.ClientName,
		MessageVersion: MessageVersion,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	info, ok := reply.(ServerInfo)
	if !ok {
		return 0, fmt.Errorf("%w: got %s", ErrHandshakeFailed, reply.Kind())
	}

	l.mu.Lock()
	l.serverName = info.ServerName
	l.mu.Unlock()
	l.logger.Info("intiface connected", "server", info.ServerName, "version", info.MessageVersion)

	reply, err = l.request(ctx, &RequestDeviceList{})
	if err != nil {
		return 0, fmt.Errorf("request device list: %w", err)
	}
	list, ok := reply.(DeviceList)
	if !ok {
		return 0, fmt.Errorf("%w: device list: got %s", ErrUnexpectedReply, reply.Kind())
	}
	for _, d := range list.Devices {
		l.addDevice(d)
	}

	if l.cfg.ScanOnConnect {
		if _, err := l.request(ctx, &StartScanning{}); err != nil {
			l.logger.Warn("intiface scan failed", "error", err)
		}
	}

	var pingEvery time.Duration
	if info.MaxPingTime > 0 {
		pingEvery = time.Duration(info.MaxPingTime) * time.Millisecond / 2
	}
	return pingEvery, nil
}

// readLoop decodes frames until the connection fails.
func (l *Link) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msgs, err := Decode(frame)
		if err != nil {
			l.errorsTotal.Add(1)
			l.logger.Warn("intiface frame dropped", "error", err)
			continue
		}
		for _, msg := range msgs {
			l.handle(msg)
		}
	}
}

// handle routes replies to their waiting request and applies events.
func (l *Link) handle(msg Message) {
	if id := msg.MessageID(); id != 0 {
		l.pendingMu.Lock()
		ch, ok := l.pending[id]
		delete(l.pending, id)
		l.pendingMu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}

	switch m := msg.(type) {
	case DeviceAdded:
		l.addDevice(m.Device)
	case DeviceRemoved:
		l.removeDevice(m.DeviceIndex)
	case ScanningFinished:
		l.logger.Debug("intiface scan finished")
	case Error:
		l.errorsTotal.Add(1)
		l.logger.Warn("intiface server error", "message", m.ErrorMessage, "code", m.ErrorCode)
	case Unknown:
		l.logger.Debug("intiface message ignored", "type", m.Name)
	}
}

func (l *Link) addDevice(d Device) {
	l.mu.Lock()
	l.devices[d.Index] = d
	changed, ready := l.updateReadyLocked()
	q := l.readyQ
	l.mu.Unlock()

	l.logger.Info("intiface device added", "index", d.Index, "name", d.Name, "linear", d.Capabilities.Linear)
	if changed {
		queueReady(q, ready)
	}
}

func (l *Link) removeDevice(index uint32) {
	l.mu.Lock()
	delete(l.devices, index)
	changed, ready := l.updateReadyLocked()
	q := l.readyQ
	l.mu.Unlock()

	l.logger.Info("intiface device removed", "index", index)
	if changed {
		queueReady(q, ready)
	}
}

// queueReady hands a transition to the connection's notifier. The queue
// is closed only after every sender on the connection has returned.
func queueReady(q chan<- bool, ready bool) {
	if q != nil {
		q <- ready
	}
}

// teardown clears session state and drops outstanding requests. It runs
// after the notifier has drained, so its transition is delivered last.
func (l *Link) teardown() {
	l.mu.Lock()
	l.conn = nil
	l.sessDone = nil
	l.serverName = ""
	clear(l.devices)
	changed, ready := l.updateReadyLocked()
	l.mu.Unlock()

	l.pendingMu.Lock()
	clear(l.pending)
	l.pendingMu.Unlock()

	if changed {
		l.emitReady(ready)
	}
}

// selectedLocked returns the device commands go to.
func (l *Link) selectedLocked() (Device, bool) {
	if l.cfg.DeviceIndex >= 0 {
		d, ok := l.devices[uint32(l.cfg.DeviceIndex)] //nolint:gosec // checked non-negative
		return d, ok && d.Capabilities.Linear
	}
	for _, d := range sortedDevices(l.devices) {
		if d.Capabilities.Linear {
			return d, true
		}
	}
	return Device{}, false
}

func (l *Link) updateReadyLocked() (changed, ready bool) {
	_, hasDevice := l.selectedLocked()
	ready = l.conn != nil && hasDevice
	changed = ready != l.ready
	l.ready = ready
	return changed, ready
}

func (l *Link) emitReady(ready bool) {
	l.callbackMu.RLock()
	cb := l.onReady
	l.callbackMu.RUnlock()

	l.logger.Info("intiface readiness changed", "ready", ready)
	if cb != nil {
		cb(ready)
	}
}

// SendLinear moves the selected device to position (0.0-1.0) over
// durationMs. It returns playback.ErrDeviceUnavailable when no linear device
// is attached.
func (l *Link) SendLinear(ctx context.Context, position float64, durationMs int) error {
	l.mu.RLock()
	d, ok := l.selectedLocked()
	ready := l.ready
	l.mu.RUnlock()
	if !ready || !ok {
		return playback.ErrDeviceUnavailable
	}

	position = math.Max(0, math.Min(1, position))
	durationMs = max(durationMs, 0)

	_, err := l.request(ctx, &LinearCmd{
		DeviceIndex: d.Index,
		Vectors:     linearVectors(d.Capabilities.LinearActuators, position, durationMs),
	})
	if err != nil {
		l.errorsTotal.Add(1)
		return fmt.Errorf("linear command: %w", err)
	}
	l.commandsSent.Add(1)
	return nil
}

// SendStop halts every device on the server.
func (l *Link) SendStop(ctx context.Context) error {
	if _, err := l.request(ctx, &StopAllDevices{}); err != nil {
		return fmt.Errorf("stop all devices: %w", err)
	}
	return nil
}

// request writes req and waits for the reply carrying its Id.
func (l *Link) request(ctx context.Context, req Request) (Message, error) {
	l.mu.RLock()
	conn, done := l.conn, l.sessDone
	l.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	id := l.nextID.Add(1)
	if id == 0 {
		id = l.nextID.Add(1)
	}
	req.setID(id)

	frame, err := Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.requestName(), err)
	}

	reply := make(chan Message, 1)
	l.pendingMu.Lock()
	l.pending[id] = reply
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, id)
		l.pendingMu.Unlock()
	}()

	if err := l.write(conn, frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(l.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		if e, isErr := msg.(Error); isErr {
			return nil, e.Err()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", req.requestName(), context.DeadlineExceeded)
	}
}

func (l *Link) write(conn *websocket.Conn, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(l.cfg.RequestTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (l *Link) writeClose(conn *websocket.Conn) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	//nolint:errcheck // Best-effort close message
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// pingLoop sends Ping until the session ends.
func (l *Link) pingLoop(done <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			_, err := l.request(ctx, &Ping{})
			cancel()
			if err != nil && !errors.Is(err, ErrNotConnected) {
				l.logger.Warn("intiface ping failed", "error", err)
			}
		}
	}
}
