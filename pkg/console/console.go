// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package console implements the text command interface used for startup
// scripts, stdin and the MQTT command topic.
//
// Commands run in the engine goroutine. Callers on other goroutines use
// Submit, which hands the line to the engine's task queue.
package console

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/channels"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

// ErrEmpty is returned for blank lines passed to Submit
var ErrEmpty = errors.New("empty command")

func init() {
	// Command names are matched the way users type them in scripts
	cobra.EnableCaseInsensitive = true
}

// Console executes command lines against one engine and channel store
type Console struct {
	engine *tuyamcu.Engine
	store  *channels.Store
	logger logrus.FieldLogger
	out    io.Writer
	rssi   func() int
}

// Option configures a Console
type Option func(*Console)

// WithOutput sets where command output goes
func WithOutput(w io.Writer) Option {
	return func(c *Console) { c.out = w }
}

// WithLogger sets the logger. Entries carry feature=CMD.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Console) { c.logger = logger }
}

// WithRSSI sets the signal strength reported by tuyaMcu_sendRSSI without
// an argument
func WithRSSI(fn func() int) Option {
	return func(c *Console) { c.rssi = fn }
}

// New creates a console
func New(engine *tuyamcu.Engine, store *channels.Store, opts ...Option) *Console {
	c := &Console{
		engine: engine,
		store:  store,
		out:    io.Discard,
		rssi:   func() int { return 0 },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	c.logger = c.logger.WithField("feature", "CMD")
	return c
}

// Execute runs one line. It must be called from the engine goroutine.
func (c *Console) Execute(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	root := c.newRoot()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		c.logger.Warnf("%s: %v", args[0], err)
		return err
	}
	return nil
}

// Submit queues a line for execution on the engine goroutine. Errors from
// the command itself are logged.
func (c *Console) Submit(line string) error {
	if strings.TrimSpace(line) == "" {
		return ErrEmpty
	}
	return c.engine.Submit(func(*tuyamcu.Engine) {
		_ = c.Execute(line)
	})
}

func (c *Console) newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "tuyalink",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.out)
	root.SetErr(c.out)

	root.AddCommand(
		&cobra.Command{
			Use:   "linkTuyaMCUOutputToChannel dpId type [channel]",
			Short: "Bind a data point to a channel",
			Args:  cobra.RangeArgs(2, 3),
			RunE:  c.link,
		},
		&cobra.Command{
			Use:   "tuyaMcu_setDimmerRange min max",
			Short: "Set the MCU side dimmer range",
			Args:  cobra.ExactArgs(2),
			RunE:  c.setDimmerRange,
		},
		simple("tuyaMcu_sendHeartbeat", "Send a heartbeat", c.engine.SendHeartbeat),
		simple("tuyaMcu_sendQueryState", "Ask the MCU for all data points", c.engine.SendQueryState),
		simple("tuyaMcu_sendProductInformation", "Ask the MCU for its product info", c.engine.SendQueryProduct),
		simple("tuyaMcu_sendMCUConf", "Ask the MCU for its working mode", c.engine.SendMCUConf),
		simple("tuyaMcu_sendCurTime", "Send the current time", c.engine.SendCurrentTime),
		simple("tuyaMcu_testSendTime", "Send a fixed example time", func() error {
			return c.engine.SendTime(time.Date(2012, time.July, 15, 6, 54, 32, 0, time.UTC), true)
		}),
		&cobra.Command{
			Use:   "tuyaMcu_sendState dpId type value",
			Short: "Set a data point on the MCU",
			Args:  cobra.MinimumNArgs(3),
			RunE:  c.sendState,
		},
		&cobra.Command{
			Use:   "fakeTuyaPacket hex",
			Short: "Process a frame as if the MCU had sent it",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.fakePacket,
		},
		&cobra.Command{
			Use:   "tuyaMcu_setBaudRate baud",
			Short: "Change the link speed",
			Args:  cobra.ExactArgs(1),
			RunE:  c.setBaudRate,
		},
		&cobra.Command{
			Use:   "tuyaMcu_sendRSSI [rssi]",
			Short: "Report the signal strength",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.sendRSSI,
		},
		&cobra.Command{
			Use:   "tuyaMcu_defWiFiState code",
			Short: "Set the WiFi state reported while offline",
			Args:  cobra.ExactArgs(1),
			RunE:  c.defWiFiState,
		},
		&cobra.Command{
			Use:   "uartSendHex hex",
			Short: "Write bytes to the UART unchanged",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.uartSendHex,
		},
		&cobra.Command{
			Use:   "tuyaMcu_sendSimple hex",
			Short: "Send bytes with the 55 AA header and checksum added",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.sendSimple,
		},
		&cobra.Command{
			Use:   "setChannel channel value",
			Short: "Set a channel value",
			Args:  cobra.ExactArgs(2),
			RunE:  c.setChannel,
		},
		&cobra.Command{
			Use:   "setChannelType channel type",
			Short: "Set a channel type",
			Args:  cobra.ExactArgs(2),
			RunE:  c.setChannelType,
		},
		&cobra.Command{
			Use:   "tuyaMcu_status",
			Short: "Print handshake state, links and statistics",
			Args:  cobra.NoArgs,
			RunE:  c.status,
		},
		&cobra.Command{
			Use:   "backlog cmd; cmd; ...",
			Short: "Run several commands",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.backlog,
		},
	)

	// Arguments such as -54 are values, not flags
	for _, sub := range root.Commands() {
		sub.DisableFlagParsing = true
	}
	return root
}

func simple(name, short string, fn func() error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  func(*cobra.Command, []string) error { return fn() },
	}
}

func parseInt(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}

func parseDataPointID(s string) (uint8, error) {
	n, err := parseInt("dpId", s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("dpId %d out of range (0-255)", n)
	}
	return uint8(n), nil
}

func (c *Console) link(cmd *cobra.Command, args []string) error {
	id, err := parseDataPointID(args[0])
	if err != nil {
		return err
	}
	t, err := tuyamcu.ParseDataPointType(args[1])
	if err != nil {
		return err
	}

	ch := tuyamcu.Unbound
	if len(args) == 3 {
		if ch, err = parseInt("channel", args[2]); err != nil {
			return err
		}
		if !channels.Valid(ch) {
			return fmt.Errorf("channel %d out of range (0-%d)", ch, channels.MaxChannels-1)
		}
	}

	c.engine.Bind(id, t, ch)
	return nil
}

func (c *Console) setDimmerRange(cmd *cobra.Command, args []string) error {
	lo, err := parseInt("min", args[0])
	if err != nil {
		return err
	}
	hi, err := parseInt("max", args[1])
	if err != nil {
		return err
	}
	return c.engine.SetDimmerRange(tuyamcu.DimmerRange{Min: lo, Max: hi})
}

func (c *Console) sendState(cmd *cobra.Command, args []string) error {
	id, err := parseDataPointID(args[0])
	if err != nil {
		return err
	}
	t, err := tuyamcu.ParseDataPointType(args[1])
	if err != nil {
		return err
	}
	value := strings.Join(args[2:], " ")

	switch t {
	case tuyamcu.DPTypeString:
		return c.engine.SendString(id, value)
	case tuyamcu.DPTypeRaw:
		data, err := tuyamcu.ParseHex(value)
		if err != nil {
			return err
		}
		return c.engine.SendRaw(id, data)
	}

	n, err := parseInt("value", value)
	if err != nil {
		return err
	}
	return c.engine.SendDataPoint(id, t, n)
}

func (c *Console) fakePacket(cmd *cobra.Command, args []string) error {
	frame, err := tuyamcu.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	return c.engine.InjectFrame(frame)
}

func (c *Console) setBaudRate(cmd *cobra.Command, args []string) error {
	baud, err := parseInt("baud rate", args[0])
	if err != nil {
		return err
	}
	return c.engine.SetBaudRate(baud)
}

func (c *Console) sendRSSI(cmd *cobra.Command, args []string) error {
	rssi := c.rssi()
	if len(args) == 1 {
		var err error
		if rssi, err = parseInt("rssi", args[0]); err != nil {
			return err
		}
	}
	return c.engine.SendRSSI(rssi)
}

func (c *Console) defWiFiState(cmd *cobra.Command, args []string) error {
	code, err := parseInt("WiFi state", args[0])
	if err != nil {
		return err
	}
	if code < 0 || code > 255 {
		return fmt.Errorf("WiFi state %d out of range", code)
	}
	c.engine.SetDefaultWiFiState(uint8(code))
	return nil
}

func (c *Console) uartSendHex(cmd *cobra.Command, args []string) error {
	data, err := tuyamcu.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	return c.engine.SendBytes(data)
}

func (c *Console) sendSimple(cmd *cobra.Command, args []string) error {
	data, err := tuyamcu.ParseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	return c.engine.SendRawWithChecksum(append([]byte{tuyamcu.HeaderByte1, tuyamcu.HeaderByte2}, data...))
}

func (c *Console) setChannel(cmd *cobra.Command, args []string) error {
	ch, err := parseInt("channel", args[0])
	if err != nil {
		return err
	}
	if !channels.Valid(ch) {
		return fmt.Errorf("channel %d out of range (0-%d)", ch, channels.MaxChannels-1)
	}
	v, err := parseInt("value", args[1])
	if err != nil {
		return err
	}
	c.store.Set(ch, v)
	return nil
}

func (c *Console) setChannelType(cmd *cobra.Command, args []string) error {
	ch, err := parseInt("channel", args[0])
	if err != nil {
		return err
	}
	t, err := channels.ParseType(args[1])
	if err != nil {
		return err
	}
	return c.store.SetType(ch, t)
}

func (c *Console) status(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s := c.engine.State()

	fmt.Fprintf(out, "Phase: %s (missed heartbeats %d, state queries %d)\n",
		s.Phase(), s.MissedHeartbeats, s.StateQueryAttempts)
	if s.ProductInfo != "" {
		fmt.Fprintf(out, "Product: %s\n", s.ProductInfo)
	}
	fmt.Fprintf(out, "Dimmer range: %s, baud %d\n", c.engine.DimmerRange(), c.engine.BaudRate())

	for _, m := range c.engine.Registry().Mappings() {
		if m.Channel == tuyamcu.Unbound {
			fmt.Fprintf(out, "  dpId %d (%s) -> no channel\n", m.DataPointID, m.Type)
			continue
		}
		fmt.Fprintf(out, "  dpId %d (%s) -> channel %d = %d\n", m.DataPointID, m.Type, m.Channel, c.store.Get(m.Channel))
	}

	fmt.Fprint(out, c.engine.Stats().String())
	return nil
}

func (c *Console) backlog(cmd *cobra.Command, args []string) error {
	var errs []error
	for _, line := range strings.Split(strings.Join(args, " "), ";") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := c.Execute(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
