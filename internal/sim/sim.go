// Package sim provides an in-memory GRBL 1.1 controller implementing transport.Transport.
//
// The simulator models the parts of the firmware the engine depends on: the startup banner,
// the character-counted receive buffer, ok/error responses, status reports, real-time
// commands, alarms, settings and overrides. Tests either let it answer every line
// automatically or hold lines and answer them explicitly with Ack and Fail.
package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/transport"
)

// DefaultBanner is the GRBL 1.1 startup message.
const DefaultBanner = "Grbl 1.1h ['$' for help]"

var fluidncBannerRe = regexp.MustCompile(`(?i)^grbl\s+(\S+)\s+\[fluidnc\s+(v?[^\s\]]+)`)

// ErrLinkDown is returned by TryRead and Write after Drop.
var ErrLinkDown = errors.New("sim: link down")

// Option configures a Controller.
type Option func(*Controller)

// WithBanner sets the startup message written after open and every soft reset.
func WithBanner(banner string) Option {
	return func(c *Controller) { c.banner = banner }
}

// WithAutoAck makes the simulator answer every line as soon as it is complete.
// It is enabled by default.
func WithAutoAck(enabled bool) Option {
	return func(c *Controller) { c.autoAck = enabled }
}

// WithRxBufferSize sets the receive buffer size used for overflow detection. Default 128.
func WithRxBufferSize(n int) Option {
	return func(c *Controller) { c.rxSize = n }
}

// WithReadTimeout sets how long TryRead waits for output. Default 2ms.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Controller) { c.readTimeout = d }
}

// WithErrorOn answers lines starting with prefix with error:code.
func WithErrorOn(prefix string, code int) Option {
	return func(c *Controller) { c.errorOn[prefix] = code }
}

// WithBootAlarm starts the simulator locked in Alarm, as GRBL does when homing is required.
func WithBootAlarm() Option {
	return func(c *Controller) { c.state = "Alarm" }
}

// WithSilentReset suppresses the banner after a soft reset, as some network bridges do.
func WithSilentReset() Option {
	return func(c *Controller) { c.silentReset = true }
}

// WithSettings replaces the initial $$ settings.
func WithSettings(settings map[string]string) Option {
	return func(c *Controller) {
		c.settings = make(map[string]string, len(settings))
		for k, v := range settings {
			c.settings[k] = v
		}
	}
}

// Controller is a simulated GRBL board.
type Controller struct {
	mu     sync.Mutex
	notify chan struct{}

	banner      string
	silentReset bool
	autoAck     bool
	rxSize      int
	readTimeout time.Duration
	errorOn     map[string]int
	settings    map[string]string

	out      []byte
	partial  []byte
	// output produced while an injected line is unterminated
	deferred []byte
	midLine  bool
	held     []string
	heldSize int
	maxHeld  int
	overflow bool

	lines    []string
	realtime []byte
	writes   []string

	state     string
	checkMode bool
	pos       [3]float64
	wco       [3]float64
	feedOv    int
	rapidOv   int
	spindleOv int

	resets  int
	opens   int
	closed  bool
	down    bool
}

// New creates a simulator. Call Open or use Opener to connect it.
func New(opts ...Option) *Controller {
	c := &Controller{
		notify:      make(chan struct{}, 1),
		banner:      DefaultBanner,
		autoAck:     true,
		rxSize:      128,
		readTimeout: 2 * time.Millisecond,
		errorOn:     make(map[string]int),
		settings: map[string]string{
			"0":   "10",
			"1":   "25",
			"13":  "0",
			"22":  "1",
			"110": "5000.000",
			"111": "5000.000",
			"112": "500.000",
		},
		state:     "Idle",
		feedOv:    100,
		rapidOv:   100,
		spindleOv: 100,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Opener returns a transport.Opener that connects to the simulator.
func (c *Controller) Opener() transport.Opener {
	return func(ctx context.Context, _ *transport.Config) (transport.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Open(); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Open connects the simulator and writes the startup banner.
// It fails while the link is down.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return &transport.ConnectionError{Op: "open", Addr: "sim", Err: fmt.Errorf("%w: %w", transport.ErrPortNotFound, ErrLinkDown)}
	}
	c.closed = false
	c.opens++
	c.out = c.out[:0]
	c.deferred = c.deferred[:0]
	c.midLine = false
	c.partial = c.partial[:0]
	c.held = nil
	c.heldSize = 0
	c.emitBannerLocked()

	return nil
}

// Write implements transport.Transport.
func (c *Controller) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, &transport.ConnectionError{Op: "write", Addr: "sim", Err: transport.ErrClosed}
	}
	if c.down {
		return 0, &transport.ConnectionError{Op: "write", Addr: "sim", Err: fmt.Errorf("%w: %w", transport.ErrClosed, ErrLinkDown)}
	}
	c.writes = append(c.writes, string(p))

	for _, b := range p {
		if firmware.IsRealtimeByte(b) {
			c.realtime = append(c.realtime, b)
			c.handleRealtimeLocked(b)
			continue
		}
		if b == '\r' {
			continue
		}
		if b != '\n' {
			c.partial = append(c.partial, b)
			continue
		}
		line := string(c.partial)
		c.partial = c.partial[:0]
		c.receiveLineLocked(line)
	}
	c.signal()

	return len(p), nil
}

// TryRead implements transport.Transport.
func (c *Controller) TryRead(p []byte) (int, error) {
	if n, ok, err := c.read(p); ok || err != nil {
		return n, err
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()
	select {
	case <-c.notify:
	case <-timer.C:
	}

	n, _, err := c.read(p)

	return n, err
}

func (c *Controller) read(p []byte) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, false, &transport.ConnectionError{Op: "read", Addr: "sim", Err: transport.ErrClosed}
	}
	if c.down {
		return 0, false, &transport.ConnectionError{Op: "read", Addr: "sim", Err: fmt.Errorf("%w: %w", transport.ErrClosed, ErrLinkDown)}
	}
	if len(c.out) == 0 {
		return 0, false, nil
	}
	n := copy(p, c.out)
	c.out = c.out[n:]

	return n, true, nil
}

// Close implements transport.Transport.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()

	return nil
}

func (c *Controller) String() string { return "sim://grbl" }

// Drop simulates a link failure. Reads and writes fail and Open is refused until Restore.
func (c *Controller) Drop() {
	c.mu.Lock()
	c.down = true
	c.mu.Unlock()
	c.signal()
}

// Restore makes the link available again.
func (c *Controller) Restore() {
	c.mu.Lock()
	c.down = false
	c.mu.Unlock()
}

// Ack answers up to n held lines with ok and returns how many were answered.
func (c *Controller) Ack(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for ; count < n && len(c.held) > 0; count++ {
		line := c.popHeldLocked()
		c.executeLocked(line)
	}
	c.signal()

	return count
}

// Fail answers the oldest held line with error:code.
func (c *Controller) Fail(code int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.held) == 0 {
		return false
	}
	c.popHeldLocked()
	c.emitLocked(fmt.Sprintf("error:%d", code))
	c.signal()

	return true
}

// Inject writes raw controller output, adding the line terminator.
func (c *Controller) Inject(lines ...string) {
	c.mu.Lock()
	for _, line := range lines {
		c.emitLocked(line)
	}
	c.mu.Unlock()
	c.signal()
}

// InjectRaw writes raw bytes without adding a terminator.
//
// Output the board produces while the injected line is unterminated is held back until a
// later InjectRaw completes it, as a serial line never interleaves two messages.
func (c *Controller) InjectRaw(data string) {
	if data == "" {
		return
	}
	c.mu.Lock()
	c.out = append(c.out, data...)
	c.midLine = data[len(data)-1] != '\n'
	if !c.midLine && len(c.deferred) > 0 {
		c.out = append(c.out, c.deferred...)
		c.deferred = c.deferred[:0]
	}
	c.mu.Unlock()
	c.signal()
}

// TriggerAlarm raises an alarm the way a limit switch would: the receive buffer is flushed
// without responses and ALARM:code is reported.
func (c *Controller) TriggerAlarm(code int) {
	c.mu.Lock()
	c.held = nil
	c.heldSize = 0
	c.partial = c.partial[:0]
	c.state = "Alarm"
	c.emitLocked(fmt.Sprintf("ALARM:%d", code))
	c.mu.Unlock()
	c.signal()
}

// SetState changes the state reported in status reports.
func (c *Controller) SetState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// SetWorkOffset sets the work coordinate offset reported with WCO.
func (c *Controller) SetWorkOffset(x, y, z float64) {
	c.mu.Lock()
	c.wco = [3]float64{x, y, z}
	c.mu.Unlock()
}

// State returns the simulated machine state.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Lines returns every complete line received since creation.
func (c *Controller) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.lines...)
}

// LineCount returns the number of complete lines received.
func (c *Controller) LineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.lines)
}

// Realtime returns every real-time byte received.
func (c *Controller) Realtime() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.realtime...)
}

// CountRealtime returns how often b was received.
func (c *Controller) CountRealtime(b byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range c.realtime {
		if r == b {
			n++
		}
	}

	return n
}

// Writes returns the payload of every Write call in order.
func (c *Controller) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.writes...)
}

// Held returns the number of lines waiting for Ack or Fail.
func (c *Controller) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.held)
}

// Buffered returns the receive buffer bytes occupied by held lines.
func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.heldSize
}

// MaxBuffered returns the highest receive buffer usage seen.
func (c *Controller) MaxBuffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.maxHeld
}

// Overflowed reports whether the receive buffer was ever exceeded.
func (c *Controller) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.overflow
}

// Resets returns the number of soft resets received.
func (c *Controller) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resets
}

// Opens returns how often the simulator was opened.
func (c *Controller) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opens
}

// Overrides returns the feed, rapid and spindle override percentages.
func (c *Controller) Overrides() (feed, rapid, spindle int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.feedOv, c.rapidOv, c.spindleOv
}

// Setting returns a stored setting.
func (c *Controller) Setting(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.settings[key]
	return v, ok
}

func (c *Controller) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) emitLocked(line string) {
	if c.midLine {
		c.deferred = append(c.deferred, line...)
		c.deferred = append(c.deferred, '\r', '\n')
		return
	}
	c.out = append(c.out, line...)
	c.out = append(c.out, '\r', '\n')
}

func (c *Controller) emitBannerLocked() {
	c.emitLocked("")
	c.emitLocked(c.banner)
	if c.state == "Alarm" {
		c.emitLocked("[MSG:'$H'|'$X' to unlock]")
	}
}

func (c *Controller) popHeldLocked() string {
	line := c.held[0]
	c.held = c.held[1:]
	c.heldSize -= len(line) + 1

	return line
}

func (c *Controller) receiveLineLocked(line string) {
	c.lines = append(c.lines, line)
	if !c.autoAck {
		c.held = append(c.held, line)
		c.heldSize += len(line) + 1
		c.maxHeld = max(c.maxHeld, c.heldSize)
		if c.heldSize > c.rxSize {
			c.overflow = true
		}
		return
	}
	if len(line)+1 > c.rxSize {
		c.overflow = true
	}
	c.executeLocked(line)
}

func (c *Controller) handleRealtimeLocked(b byte) {
	switch b {
	case '?':
		c.emitLocked(c.statusLocked())
	case '!':
		if st := c.effectiveStateLocked(); st == "Run" || st == "Jog" {
			c.state = "Hold:0"
		}
	case '~':
		if strings.HasPrefix(c.state, "Hold") {
			c.state = "Idle"
		}
	case 0x18:
		c.resets++
		c.held = nil
		c.heldSize = 0
		c.partial = c.partial[:0]
		if c.state != "Alarm" {
			c.state = "Idle"
		}
		c.feedOv, c.rapidOv, c.spindleOv = 100, 100, 100
		if !c.silentReset {
			c.emitBannerLocked()
		}
	case 0x84:
		c.state = "Door:0"
	case 0x85:
		if c.state == "Jog" {
			c.state = "Idle"
		}
	case 0x90:
		c.feedOv = 100
	case 0x91:
		c.feedOv = min(c.feedOv+10, 200)
	case 0x92:
		c.feedOv = max(c.feedOv-10, 10)
	case 0x93:
		c.feedOv = min(c.feedOv+1, 200)
	case 0x94:
		c.feedOv = max(c.feedOv-1, 10)
	case 0x95:
		c.rapidOv = 100
	case 0x96:
		c.rapidOv = 50
	case 0x97:
		c.rapidOv = 25
	case 0x99:
		c.spindleOv = 100
	case 0x9A:
		c.spindleOv = min(c.spindleOv+10, 200)
	case 0x9B:
		c.spindleOv = max(c.spindleOv-10, 10)
	case 0x9C:
		c.spindleOv = min(c.spindleOv+1, 200)
	case 0x9D:
		c.spindleOv = max(c.spindleOv-1, 10)
	}
}

// versionLocked answers $I the way the firmware named by the banner does.
func (c *Controller) versionLocked() string {
	if m := fluidncBannerRe.FindStringSubmatch(c.banner); m != nil {
		return "[VER:" + m[1] + " FluidNC " + m[2] + ":]"
	}
	return "[VER:1.1h.20190825:]"
}

func (c *Controller) statusLocked() string {
	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(c.effectiveStateLocked())
	fmt.Fprintf(&sb, "|MPos:%.3f,%.3f,%.3f", c.pos[0], c.pos[1], c.pos[2])
	fmt.Fprintf(&sb, "|Bf:15,%d", max(c.rxSize-c.heldSize, 0))
	sb.WriteString("|FS:0,0")
	if c.feedOv != 100 || c.rapidOv != 100 || c.spindleOv != 100 {
		fmt.Fprintf(&sb, "|Ov:%d,%d,%d", c.feedOv, c.rapidOv, c.spindleOv)
	}
	if c.wco != [3]float64{} {
		fmt.Fprintf(&sb, "|WCO:%.3f,%.3f,%.3f", c.wco[0], c.wco[1], c.wco[2])
	}
	sb.WriteString(">")

	return sb.String()
}

// effectiveStateLocked reports Run while held lines are executing.
func (c *Controller) effectiveStateLocked() string {
	if c.state == "Idle" && len(c.held) > 0 {
		return "Run"
	}
	return c.state
}

func (c *Controller) executeLocked(line string) {
	for prefix, code := range c.errorOn {
		if strings.HasPrefix(line, prefix) {
			c.emitLocked("error:" + strconv.Itoa(code))
			return
		}
	}

	switch {
	case line == "$X":
		if c.state == "Alarm" {
			c.state = "Idle"
			c.emitLocked("[MSG:Caution: Unlocked]")
		}
		c.emitLocked("ok")
	case line == "$H":
		c.state = "Idle"
		c.pos = [3]float64{}
		c.emitLocked("ok")
	case line == "$C":
		c.checkMode = !c.checkMode
		if c.checkMode {
			c.state = "Check"
			c.emitLocked("[MSG:Enabled]")
		} else {
			c.state = "Idle"
			c.emitLocked("[MSG:Disabled]")
			c.held = nil
			c.heldSize = 0
			c.emitBannerLocked()
			return
		}
		c.emitLocked("ok")
	case line == "$$":
		for _, key := range sortedKeys(c.settings) {
			c.emitLocked("$" + key + "=" + c.settings[key])
		}
		c.emitLocked("ok")
	case line == "$I":
		c.emitLocked(c.versionLocked())
		c.emitLocked(fmt.Sprintf("[OPT:V,15,%d]", c.rxSize))
		c.emitLocked("ok")
	case line == "$G":
		c.emitLocked("[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]")
		c.emitLocked("ok")
	case strings.HasPrefix(line, "$J="):
		if c.state == "Alarm" {
			c.emitLocked("error:9")
			return
		}
		c.emitLocked("ok")
	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		key, value, _ := strings.Cut(line[1:], "=")
		if _, err := strconv.Atoi(key); err != nil {
			c.emitLocked("error:3")
			return
		}
		c.settings[key] = value
		c.emitLocked("ok")
	case c.state == "Alarm":
		c.emitLocked("error:9")
	default:
		c.moveLocked(line)
		c.emitLocked("ok")
	}
}

func (c *Controller) moveLocked(line string) {
	if c.checkMode {
		return
	}
	for _, word := range strings.Fields(line) {
		if len(word) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(word[1:], 64)
		if err != nil {
			continue
		}
		switch word[0] {
		case 'X', 'x':
			c.pos[0] = v
		case 'Y', 'y':
			c.pos[1] = v
		case 'Z', 'z':
			c.pos[2] = v
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b string) int {
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		if aerr == nil && berr == nil {
			return cmp.Compare(ai, bi)
		}
		return strings.Compare(a, b)
	})

	return keys
}
