package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/adwski/sketchwire/model"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		action model.Action
	}{
		{
			name:   "create",
			action: model.CreateAction(model.Shape{ID: "server-ab12cd34-1", Origin: model.OriginServer, Geometry: model.Geometry{X: 10, Y: 10, R: 5}}),
		},
		{
			name:   "create with fractional geometry",
			action: model.CreateAction(model.Shape{ID: "client-99ffee00-7", Origin: model.OriginClient, Geometry: model.Geometry{X: 0.5, Y: -31.25, R: 32}}),
		},
		{
			name:   "update",
			action: model.UpdateAction("server-ab12cd34-1", model.Geometry{X: 10, Y: 10, R: 15}),
		},
		{
			name:   "update to zero geometry",
			action: model.UpdateAction("client-99ffee00-7", model.Geometry{}),
		},
		{
			name:   "snapshot request",
			action: model.SnapshotRequestAction(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.action)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			got, err := NewReader(bytes.NewReader(frame)).Read()
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.action) {
				t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, tt.action)
			}
		})
	}
}

func TestEncodeRejectsInvalidActions(t *testing.T) {
	tests := []struct {
		name   string
		action model.Action
	}{
		{name: "create without id", action: model.Action{Op: model.OpCreate, Origin: model.OriginServer, Geometry: &model.Geometry{}}},
		{name: "update without geometry", action: model.Action{Op: model.OpUpdate, ID: "x-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.action); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Encode() = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestReadStream(t *testing.T) {
	actions := []model.Action{
		model.CreateAction(model.Shape{ID: "s-1", Origin: model.OriginServer, Geometry: model.Geometry{X: 1, Y: 1, R: 32}}),
		model.UpdateAction("s-1", model.Geometry{X: 1, Y: 1, R: 31.5}),
		model.UpdateAction("s-1", model.Geometry{X: 1, Y: 1, R: 31}),
	}

	var stream bytes.Buffer
	for _, a := range actions {
		if err := Write(&stream, a); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}

	r := NewReader(&stream)
	for i, want := range actions {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() %d error: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("frame %d mismatch:\ngot  %+v\nwant %+v", i, got, want)
		}
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() past end = %v, want io.EOF", err)
	}
}

func TestReadCleanClose(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)).Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() on empty stream = %v, want io.EOF", err)
	}
}

func TestReadBrokenStream(t *testing.T) {
	whole, err := Encode(model.UpdateAction("s-1", model.Geometry{R: 4}))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "cut inside header", data: whole[:2]},
		{name: "cut after header", data: whole[:headerSize]},
		{name: "cut inside payload", data: whole[:len(whole)-3]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data)).Read()
			if !errors.Is(err, ErrFraming) {
				t.Errorf("Read() = %v, want ErrFraming", err)
			}
			if errors.Is(err, io.EOF) {
				t.Errorf("Read() = %v, must not look like a clean close", err)
			}
		})
	}
}

func TestReadOversizedFrame(t *testing.T) {
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := NewReader(bytes.NewReader(header[:])).Read()
	if !errors.Is(err, ErrFraming) || !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Read() = %v, want ErrFraming joined with ErrFrameTooLarge", err)
	}
}

func TestReadMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "not json", payload: []byte("{{{{")},
		{name: "empty payload", payload: nil},
		{name: "wrong field types", payload: []byte(`{"op":"create","id":7}`)},
		{name: "known op with missing fields", payload: []byte(`{"op":"update","id":"s-1"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stream bytes.Buffer
			var header [headerSize]byte
			binary.LittleEndian.PutUint32(header[:], uint32(len(tt.payload)))
			stream.Write(header[:])
			stream.Write(tt.payload)

			_, err := NewReader(&stream).Read()
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Read() = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestReadUnknownActionIsSkippable(t *testing.T) {
	var stream bytes.Buffer

	payload := []byte(`{"op":"erase","id":"s-1"}`)
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	stream.Write(header[:])
	stream.Write(payload)

	next := model.UpdateAction("s-1", model.Geometry{R: 4})
	if err := Write(&stream, next); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	r := NewReader(&stream)

	_, err := r.Read()
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Read() = %v, want ErrUnknownAction", err)
	}
	if errors.Is(err, ErrFraming) || errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("unknown op must not be reported as fatal, got %v", err)
	}

	// framing must survive the skipped frame
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read() after skip error: %v", err)
	}
	if !reflect.DeepEqual(got, next) {
		t.Errorf("frame after skip mismatch:\ngot  %+v\nwant %+v", got, next)
	}
}

func BenchmarkEncode(b *testing.B) {
	a := model.CreateAction(model.Shape{ID: "server-ab12cd34-1", Origin: model.OriginServer, Geometry: model.Geometry{X: 10, Y: 10, R: 5}})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(a); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRead(b *testing.B) {
	frame, err := Encode(model.UpdateAction("server-ab12cd34-1", model.Geometry{X: 10, Y: 10, R: 15}))
	if err != nil {
		b.Fatal(err)
	}
	rd := bytes.NewReader(frame)
	r := NewReader(rd)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rd.Reset(frame)
		if _, err := r.Read(); err != nil {
			b.Fatal(err)
		}
	}
}
