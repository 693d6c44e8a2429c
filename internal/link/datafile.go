package link

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Recording file layout: the 4-byte magic, a uint16 format version, then a
// sequence of records, each a one-byte kind followed by a fixed-size payload
// (messages carry a uint16 length prefix). All integers are little endian.
const (
	recordingMagic   = "GZL1"
	recordingVersion = uint16(1)
	maxMessageLen    = math.MaxUint16
)

const (
	recordMessage byte = iota + 1
	recordSample
	recordEvent
)

// ErrBadRecording is returned when a recording file cannot be decoded.
var ErrBadRecording = errors.New("malformed recording file")

type wireEye struct {
	Valid     uint8
	GazeX     float64
	GazeY     float64
	PupilSize float64
}

type wireSample struct {
	Time  uint64
	Left  wireEye
	Right wireEye
}

type wireEvent struct {
	Time         uint64
	Type         uint8
	Eye          int8
	StartTime    uint64
	EndTime      uint64
	StartX       float64
	StartY       float64
	EndX         float64
	EndY         float64
	AvgX         float64
	AvgY         float64
	Amplitude    float64
	PeakVelocity float64
	AvgPupilSize float64
}

// Message is a timestamped annotation stored in a recording.
type Message struct {
	Time uint64 `json:"time"`
	Text string `json:"text"`
}

// Recording is the decoded content of a recording file.
type Recording struct {
	Version  uint16      `json:"version"`
	Messages []Message   `json:"messages"`
	Samples  []Sample    `json:"samples"`
	Events   []GazeEvent `json:"events"`
}

// RecordingWriter encodes records into a recording file.
type RecordingWriter struct {
	w   io.Writer
	err error
}

// NewRecordingWriter writes the file header to w and returns a writer for
// subsequent records.
func NewRecordingWriter(w io.Writer) (*RecordingWriter, error) {
	if _, err := io.WriteString(w, recordingMagic); err != nil {
		return nil, fmt.Errorf("writing recording header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, recordingVersion); err != nil {
		return nil, fmt.Errorf("writing recording header: %w", err)
	}
	return &RecordingWriter{w: w}, nil
}

func (rw *RecordingWriter) write(kind byte, payload any) error {
	if rw.err != nil {
		return rw.err
	}
	if _, err := rw.w.Write([]byte{kind}); err != nil {
		rw.err = err
		return err
	}
	if err := binary.Write(rw.w, binary.LittleEndian, payload); err != nil {
		rw.err = err
		return err
	}
	return nil
}

// WriteMessage appends a message record. Text longer than 65535 bytes is
// rejected.
func (rw *RecordingWriter) WriteMessage(m Message) error {
	if len(m.Text) > maxMessageLen {
		return fmt.Errorf("message of %d bytes exceeds %d", len(m.Text), maxMessageLen)
	}
	if err := rw.write(recordMessage, struct {
		Time uint64
		Len  uint16
	}{m.Time, uint16(len(m.Text))}); err != nil {
		return err
	}
	if _, err := io.WriteString(rw.w, m.Text); err != nil {
		rw.err = err
		return err
	}
	return nil
}

// WriteSample appends a sample record.
func (rw *RecordingWriter) WriteSample(s Sample) error {
	return rw.write(recordSample, wireSample{
		Time:  s.Time,
		Left:  toWireEye(s.Left),
		Right: toWireEye(s.Right),
	})
}

// WriteEvent appends an event record.
func (rw *RecordingWriter) WriteEvent(e GazeEvent) error {
	return rw.write(recordEvent, wireEvent{
		Time:         e.Time,
		Type:         uint8(e.Type),
		Eye:          int8(e.Eye),
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		StartX:       e.Start.X,
		StartY:       e.Start.Y,
		EndX:         e.End.X,
		EndY:         e.End.Y,
		AvgX:         e.Average.X,
		AvgY:         e.Average.Y,
		Amplitude:    e.Amplitude,
		PeakVelocity: e.PeakVelocity,
		AvgPupilSize: e.AvgPupilSize,
	})
}

// ReadRecording decodes a complete recording file.
func ReadRecording(r io.Reader) (*Recording, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(recordingMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != recordingMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadRecording)
	}

	rec := &Recording{}
	if err := binary.Read(br, binary.LittleEndian, &rec.Version); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrBadRecording, err)
	}
	if rec.Version != recordingVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadRecording, rec.Version)
	}

	for {
		kind, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return rec, nil
		}
		if err != nil {
			return nil, err
		}

		switch kind {
		case recordMessage:
			var hdr struct {
				Time uint64
				Len  uint16
			}
			if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
				return nil, fmt.Errorf("%w: message header: %v", ErrBadRecording, err)
			}
			text := make([]byte, hdr.Len)
			if _, err := io.ReadFull(br, text); err != nil {
				return nil, fmt.Errorf("%w: message text: %v", ErrBadRecording, err)
			}
			rec.Messages = append(rec.Messages, Message{Time: hdr.Time, Text: string(text)})
		case recordSample:
			var ws wireSample
			if err := binary.Read(br, binary.LittleEndian, &ws); err != nil {
				return nil, fmt.Errorf("%w: sample: %v", ErrBadRecording, err)
			}
			rec.Samples = append(rec.Samples, Sample{
				Time:  ws.Time,
				Left:  fromWireEye(ws.Left),
				Right: fromWireEye(ws.Right),
			})
		case recordEvent:
			var we wireEvent
			if err := binary.Read(br, binary.LittleEndian, &we); err != nil {
				return nil, fmt.Errorf("%w: event: %v", ErrBadRecording, err)
			}
			rec.Events = append(rec.Events, GazeEvent{
				Time:         we.Time,
				Type:         EventType(we.Type),
				Eye:          Eye(we.Eye),
				StartTime:    we.StartTime,
				EndTime:      we.EndTime,
				Start:        Point{X: we.StartX, Y: we.StartY},
				End:          Point{X: we.EndX, Y: we.EndY},
				Average:      Point{X: we.AvgX, Y: we.AvgY},
				Amplitude:    we.Amplitude,
				PeakVelocity: we.PeakVelocity,
				AvgPupilSize: we.AvgPupilSize,
			})
		default:
			return nil, fmt.Errorf("%w: unknown record kind %d", ErrBadRecording, kind)
		}
	}
}

func toWireEye(e EyeData) wireEye {
	var valid uint8
	if e.Valid {
		valid = 1
	}
	return wireEye{Valid: valid, GazeX: e.GazeX, GazeY: e.GazeY, PupilSize: e.PupilSize}
}

func fromWireEye(w wireEye) EyeData {
	return EyeData{Valid: w.Valid == 1, GazeX: w.GazeX, GazeY: w.GazeY, PupilSize: w.PupilSize}
}
