package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxHeaderLine bounds a header line. Longer input without a newline is
	// discarded up to the next '\n'.
	MaxHeaderLine = 4 * 1024
	// DefaultMaxImageSize is the largest body a Reassembler accepts unless
	// configured otherwise.
	DefaultMaxImageSize = 64 << 20
)

const (
	tagHello    = "HELLO"
	tagCameraID = "CAM_ID"
	tagImage    = "IMAGE"
)

var (
	ErrMalformedHeader = errors.New("malformed header")
	ErrUnknownHeader   = errors.New("unknown header")
	ErrLineTooLong     = errors.New("header line too long")
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
)

// ParseHeader decodes one header line without its trailing '\n'. A trailing
// '\r' is ignored.
func ParseHeader(line string) (Frame, error) {
	line = strings.TrimSuffix(line, "\r")
	parts := strings.Split(line, ";")
	switch parts[0] {
	case tagHello, tagCameraID:
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		id, err := parseCameraID(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedHeader, line, err)
		}
		if parts[0] == tagHello {
			return Handshake{CameraID: id}, nil
		}
		return IdentityUpdate{CameraID: id}, nil
	case tagImage:
		// Extra trailing fields are tolerated.
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		id, err := parseCameraID(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedHeader, line, err)
		}
		length, err := strconv.Atoi(parts[2])
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: %q: bad length", ErrMalformedHeader, line)
		}
		return ImageHeader{CameraID: id, Length: length}, nil
	case CommandShutter:
		if len(parts) != 1 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		return Command{Name: CommandShutter}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHeader, line)
	}
}

func parseCameraID(field string) (CameraID, error) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, err
	}
	return CameraID(n), nil
}

// AppendHandshake appends "HELLO;<id>\n" to dst.
func AppendHandshake(dst []byte, id CameraID) []byte {
	return appendIDLine(dst, tagHello, id)
}

// AppendIdentityUpdate appends "CAM_ID;<id>\n" to dst.
func AppendIdentityUpdate(dst []byte, id CameraID) []byte {
	return appendIDLine(dst, tagCameraID, id)
}

// AppendImageHeader appends "IMAGE;<id>;<len>\n" to dst.
func AppendImageHeader(dst []byte, id CameraID, length int) []byte {
	dst = append(dst, tagImage...)
	dst = append(dst, ';')
	dst = strconv.AppendInt(dst, int64(id), 10)
	dst = append(dst, ';')
	dst = strconv.AppendInt(dst, int64(length), 10)
	return append(dst, '\n')
}

// AppendCommand appends "<name>\n" to dst.
func AppendCommand(dst []byte, name string) []byte {
	dst = append(dst, name...)
	return append(dst, '\n')
}

func appendIDLine(dst []byte, tag string, id CameraID) []byte {
	dst = append(dst, tag...)
	dst = append(dst, ';')
	dst = strconv.AppendInt(dst, int64(id), 10)
	return append(dst, '\n')
}

// ValidCommandName reports whether name can be sent as a command line.
func ValidCommandName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ";\r\n")
}

// WriteFrame encodes f to w. An ImageBody is written as header plus body.
func WriteFrame(w io.Writer, f Frame) error {
	var scratch [64]byte
	var line []byte
	switch m := f.(type) {
	case Handshake:
		line = AppendHandshake(scratch[:0], m.CameraID)
	case IdentityUpdate:
		line = AppendIdentityUpdate(scratch[:0], m.CameraID)
	case ImageHeader:
		line = AppendImageHeader(scratch[:0], m.CameraID, m.Length)
	case ImageBody:
		return WriteImage(w, m.CameraID, m.Data)
	case Command:
		if !ValidCommandName(m.Name) {
			return fmt.Errorf("invalid command name %q", m.Name)
		}
		line = AppendCommand(scratch[:0], m.Name)
	default:
		return fmt.Errorf("unsupported frame type: %T", f)
	}
	_, err := w.Write(line)
	return err
}

// WriteImage writes an IMAGE header followed by the raw body. The body is not
// copied into an intermediate buffer.
func WriteImage(w io.Writer, id CameraID, body []byte) error {
	var scratch [64]byte
	if _, err := w.Write(AppendImageHeader(scratch[:0], id, len(body))); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}
