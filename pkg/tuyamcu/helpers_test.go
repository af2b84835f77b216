// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// byteQueue is an unbounded in-memory ByteSource
type byteQueue struct {
	data []byte
}

func (q *byteQueue) push(b ...byte) { q.data = append(q.data, b...) }
func (q *byteQueue) Buffered() int { return len(q.data) }
func (q *byteQueue) PeekByte(offset int) byte { return q.data[offset] }
func (q *byteQueue) Consume(n int) { q.data = q.data[n:] }

// fakeTransport records written frames and serves queued inbound bytes
type fakeTransport struct {
	byteQueue
	writes   [][]byte
	baud     int
	writeErr error
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	t.writes = append(t.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (t *fakeTransport) SetBaudRate(baud int) error {
	t.baud = baud
	return nil
}

// reply queues a frame as a version 3 MCU would send it
func (t *fakeTransport) reply(cmd uint8, payload []byte) {
	t.push(EncodeFrameVersion(VersionStandard, cmd, payload)...)
}

// commands decodes the written frames and returns their command codes
func (t *fakeTransport) commands(tb testing.TB) []uint8 {
	tb.Helper()
	var cmds []uint8
	for _, w := range t.writes {
		p, err := Decode(w)
		if err != nil {
			tb.Fatalf("engine wrote an invalid frame % X: %v", w, err)
		}
		cmds = append(cmds, p.Command())
	}
	return cmds
}

// packets decodes the written frames with the given command
func (t *fakeTransport) packets(tb testing.TB, cmd uint8) []*Packet {
	tb.Helper()
	var out []*Packet
	for _, w := range t.writes {
		p, err := Decode(w)
		if err != nil {
			tb.Fatalf("engine wrote an invalid frame % X: %v", w, err)
		}
		if p.Command() == cmd {
			out = append(out, p)
		}
	}
	return out
}

func newNullLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func newTestEngine(opts ...Option) (*Engine, *fakeTransport, *channels.Store) {
	logger, _ := newNullLogger()
	transport := &fakeTransport{}
	store := channels.NewStore(logger)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(transport, store, opts...), transport, store
}

// steadyState returns a liveness state past the handshake with no
// heartbeat due for a while
func steadyState() LivenessState {
	return LivenessState{
		HeartbeatValid:     true,
		ProductInfoValid:   true,
		WorkingModeValid:   true,
		WiFiStateValid:     true,
		StateUpdated:       true,
		HeartbeatCountdown: 100,
	}
}

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}
