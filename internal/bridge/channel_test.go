package bridge

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// fakePort replays scripted reads. An empty chunk models a read timeout.
type fakePort struct {
	reads      [][]byte
	readErr    error
	writeErr   error
	written    []byte
	inResets   int
	closeCalls int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	chunk := p.reads[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.reads[0] = chunk[n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) ResetInputBuffer() error           { p.inResets++; return nil }
func (p *fakePort) ResetOutputBuffer() error          { return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) Close() error                      { p.closeCalls++; return nil }

type fakeDriver struct {
	ports  []PortInfo
	port   *fakePort
	opened string
}

func (d *fakeDriver) List() ([]PortInfo, error) { return d.ports, nil }

func (d *fakeDriver) Open(name string, s Settings) (Port, error) {
	d.opened = name
	return d.port, nil
}

var arduino = regexp.MustCompile("Arduino")

func TestOpen_PortSelection(t *testing.T) {
	tests := []struct {
		name    string
		ports   []PortInfo
		wantErr error
		want    string
	}{
		{
			name:    "no ports",
			wantErr: ErrDeviceNotFound,
		},
		{
			name: "single match",
			ports: []PortInfo{
				{Name: "COM1", Description: "Communications Port"},
				{Name: "COM4", Description: "Arduino Uno"},
			},
			want: "COM4",
		},
		{
			name: "two matches",
			ports: []PortInfo{
				{Name: "COM4", Description: "Arduino Uno"},
				{Name: "COM5", Description: "Arduino Mega"},
			},
			wantErr: ErrAmbiguousDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDriver{ports: tt.ports, port: &fakePort{}}
			ch, err := Open(d, arduino, DefaultSettings(), logging.NopLogger())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if d.opened != "" {
					t.Errorf("opened %q, want no port opened", d.opened)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ch.PortName() != tt.want {
				t.Errorf("PortName = %q, want %q", ch.PortName(), tt.want)
			}
		})
	}
}

func openFake(t *testing.T, port *fakePort) *Channel {
	t.Helper()
	d := &fakeDriver{ports: []PortInfo{{Name: "ttyACM0", Description: "Arduino Uno"}}, port: port}
	ch, err := Open(d, arduino, DefaultSettings(), logging.NopLogger())
	if err != nil {
		t.Fatal(err)
	}
	return ch
}

func TestChannel_ReadLine(t *testing.T) {
	port := &fakePort{reads: [][]byte{
		[]byte("Autosampler Sig"),
		[]byte("nal Latch Cleared\r\nSignal Sent"),
		[]byte(" To Autosampler\r\n"),
		{},
	}}
	ch := openFake(t, port)

	want := []string{
		"Autosampler Signal Latch Cleared",
		"Signal Sent To Autosampler",
		"",
	}
	for i, w := range want {
		line, err := ch.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine %d: %v", i, err)
		}
		if string(line) != w {
			t.Errorf("line %d = %q, want %q", i, line, w)
		}
	}
}

func TestChannel_FlushDropsPending(t *testing.T) {
	port := &fakePort{reads: [][]byte{[]byte("stale\r\nmore stale\r\n")}}
	ch := openFake(t, port)

	if _, err := ch.ReadLine(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	line, err := ch.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if len(line) != 0 {
		t.Errorf("line after flush = %q, want empty", line)
	}
	if port.inResets != 1 {
		t.Errorf("input resets = %d, want 1", port.inResets)
	}
}

func TestChannel_IOErrorIsDisconnect(t *testing.T) {
	port := &fakePort{readErr: errors.New("device unplugged"), writeErr: errors.New("device unplugged")}
	ch := openFake(t, port)

	if err := ch.Send('S'); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send err = %v, want ErrDisconnected", err)
	}
	if _, err := ch.ReadLine(); !errors.Is(err, ErrDisconnected) {
		t.Errorf("ReadLine err = %v, want ErrDisconnected", err)
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	port := &fakePort{}
	ch := openFake(t, port)

	if err := ch.Send('C'); err != nil {
		t.Fatal(err)
	}
	if string(port.written) != "C" {
		t.Errorf("written = %q, want C", port.written)
	}

	ch.Close()
	ch.Close()

	if port.closeCalls != 1 {
		t.Errorf("port closed %d times, want 1", port.closeCalls)
	}
	if err := ch.Send('C'); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after close err = %v, want ErrClosed", err)
	}
}
