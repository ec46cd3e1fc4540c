// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package physmem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/pgwalk/pkg/log"
	"gvisor.dev/pgwalk/pkg/pagetables"
)

// monitorPrompt terminates every response of the QEMU human monitor.
const monitorPrompt = "(qemu) "

// maxWordsPerRequest bounds the size of a single xp request.
const maxWordsPerRequest = 512

// ErrConnectionLost is returned by a Monitor once a request has failed to
// complete. The connection is closed at that point: a late reply would
// otherwise be taken as the answer to the next request.
var ErrConnectionLost = fmt.Errorf("monitor connection lost: %w", pagetables.ErrReaderClosed)

var (
	dumpLine   = regexp.MustCompile(`(?m)^([0-9a-fA-F]+):((?:[ \t]+0x[0-9a-fA-F]+)+)`)
	escapeCode = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
)

// MonitorOpts configures a Monitor.
type MonitorOpts struct {
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration

	// DialAttempts is the number of additional connection attempts made
	// after the first one fails.
	DialAttempts uint64

	// DialInterval is the delay between connection attempts.
	DialInterval time.Duration
}

// Monitor reads physical memory through the QEMU human monitor protocol,
// using the "xp" command.
//
// Requests are serialized. After the first failed request, every request
// fails with ErrConnectionLost.
type Monitor struct {
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	// lost is the error that broke the connection, if any.
	lost error
}

// DialMonitor connects to a QEMU monitor. addr is either a unix socket path,
// optionally prefixed with "unix:", or "tcp:host:port".
//
// Only establishing the connection is retried; reads never are.
func DialMonitor(ctx context.Context, addr string, opts MonitorOpts) (*Monitor, error) {
	network, address := "unix", strings.TrimPrefix(addr, "unix:")
	if strings.HasPrefix(addr, "tcp:") {
		network, address = "tcp", strings.TrimPrefix(addr, "tcp:")
	}

	var conn net.Conn
	attempt := 0
	dial := func() error {
		attempt++
		var d net.Dialer
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			log.Debugf("Monitor dial attempt %d to %s %q failed: %v", attempt, network, address, err)
			return err
		}
		conn = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.DialInterval), opts.DialAttempts), ctx)
	if err := backoff.Retry(dial, b); err != nil {
		return nil, fmt.Errorf("connecting to monitor %q: %w", addr, err)
	}
	log.Infof("Connected to monitor %s %q after %d attempt(s)", network, address, attempt)
	return NewMonitor(conn, opts.Timeout)
}

// NewMonitor returns a Monitor using an established connection. It waits for
// the first prompt. It takes ownership of conn.
func NewMonitor(conn net.Conn, timeout time.Duration) (*Monitor, error) {
	m := &Monitor{
		timeout: timeout,
		conn:    conn,
		rd:      bufio.NewReader(conn),
	}
	m.setDeadline()
	banner, err := m.readResponse()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for monitor prompt: %w", err)
	}
	log.Debugf("Monitor banner: %q", strings.TrimSpace(banner))
	return m, nil
}

// Close closes the connection.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lost != nil {
		return nil
	}
	m.lost = net.ErrClosed
	return m.conn.Close()
}

func (m *Monitor) setDeadline() {
	if m.timeout > 0 {
		m.conn.SetDeadline(time.Now().Add(m.timeout))
	}
}

// readResponse reads up to and excluding the next prompt.
func (m *Monitor) readResponse() (string, error) {
	var sb strings.Builder
	for {
		c, err := m.rd.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		sb.WriteByte(c)
		if s := sb.String(); strings.HasSuffix(s, monitorPrompt) {
			return strings.TrimSuffix(s, monitorPrompt), nil
		}
	}
}

// exec runs one monitor command and returns its output.
//
// Preconditions: m.mu is locked.
func (m *Monitor) exec(cmd string) (string, error) {
	if m.lost != nil {
		return "", m.lost
	}
	m.setDeadline()
	out, err := m.roundTrip(cmd)
	if err != nil {
		log.Warningf("Monitor request %q failed, closing connection: %v", cmd, err)
		m.lost = err
		m.conn.Close()
	}
	return out, err
}

func (m *Monitor) roundTrip(cmd string) (string, error) {
	if _, err := io.WriteString(m.conn, cmd+"\n"); err != nil {
		return "", err
	}
	return m.readResponse()
}

// ReadEntry implements pagetables.Reader.ReadEntry.
func (m *Monitor) ReadEntry(addr uint64) (uint64, error) {
	var v [1]uint64
	if err := m.ReadEntries(addr, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReadEntries implements pagetables.BlockReader.ReadEntries.
func (m *Monitor) ReadEntries(addr uint64, dst []uint64) error {
	if addr%wordSize != 0 {
		return ErrUnaligned
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(dst) > 0 {
		n := len(dst)
		if n > maxWordsPerRequest {
			n = maxWordsPerRequest
		}
		out, err := m.exec(fmt.Sprintf("xp /%dgx %#x", n, addr))
		if err != nil {
			return fmt.Errorf("%w at %#x: %v", ErrConnectionLost, addr, err)
		}
		if err := parseDump(out, addr, dst[:n]); err != nil {
			return err
		}
		dst = dst[n:]
		addr += uint64(n) * wordSize
	}
	return nil
}

// parseDump parses the output of "xp /Ngx addr" into dst.
func parseDump(out string, addr uint64, dst []uint64) error {
	if strings.Contains(out, "Cannot access memory") {
		return fmt.Errorf("%w at %#x", ErrUnreadable, addr)
	}
	out = escapeCode.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r", "")

	n := 0
	for _, line := range dumpLine.FindAllStringSubmatch(out, -1) {
		lineAddr, err := strconv.ParseUint(line[1], 16, 64)
		if err != nil {
			return fmt.Errorf("%w at %#x: bad dump address %q", ErrUnreadable, addr, line[1])
		}
		if want := addr + uint64(n)*wordSize; lineAddr != want {
			return fmt.Errorf("%w at %#x: dump line at %#x, want %#x", ErrUnreadable, addr, lineAddr, want)
		}
		for _, field := range strings.Fields(line[2]) {
			if n == len(dst) {
				return fmt.Errorf("%w at %#x: dump longer than %d words", ErrUnreadable, addr, len(dst))
			}
			v, err := strconv.ParseUint(strings.TrimPrefix(field, "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("%w at %#x: bad dump value %q", ErrUnreadable, addr, field)
			}
			dst[n] = v
			n++
		}
	}
	if n != len(dst) {
		return fmt.Errorf("%w at %#x: got %d words, want %d", ErrUnreadable, addr, n, len(dst))
	}
	return nil
}
