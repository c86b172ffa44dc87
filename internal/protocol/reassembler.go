package protocol

import "bytes"

// Reassembler turns a connection's byte stream into frames. It holds the
// unconsumed buffer and at most one pending image header. Each connection
// owns its own Reassembler; it is not safe for concurrent use.
type Reassembler struct {
	buf      []byte
	pending  *ImageHeader
	skipping bool
	discard  int
	maxImage int

	// OnMalformed, when set, observes every dropped line or oversize header.
	OnMalformed func(line string, err error)
}

// NewReassembler returns a Reassembler accepting bodies up to maxImage bytes.
// A non-positive maxImage selects DefaultMaxImageSize.
func NewReassembler(maxImage int) *Reassembler {
	if maxImage <= 0 {
		maxImage = DefaultMaxImageSize
	}
	return &Reassembler{maxImage: maxImage}
}

// Feed appends p to the buffer and returns every frame that is now complete,
// in stream order. IMAGE headers are emitted as soon as the line is parsed so
// callers can refresh presence before the body arrives.
func (r *Reassembler) Feed(p []byte) []Frame {
	r.buf = append(r.buf, p...)

	var frames []Frame
	for {
		if r.discard > 0 {
			n := min(r.discard, len(r.buf))
			r.buf = r.buf[n:]
			r.discard -= n
			if r.discard > 0 {
				break
			}
			continue
		}
		if r.pending != nil {
			n := r.pending.Length
			if len(r.buf) < n {
				break
			}
			data := make([]byte, n)
			copy(data, r.buf[:n])
			r.buf = r.buf[n:]
			frames = append(frames, ImageBody{CameraID: r.pending.CameraID, Data: data})
			r.pending = nil
			continue
		}

		idx := bytes.IndexByte(r.buf, '\n')
		if r.skipping {
			if idx < 0 {
				r.buf = r.buf[:0]
				break
			}
			r.buf = r.buf[idx+1:]
			r.skipping = false
			continue
		}
		if idx < 0 {
			if len(r.buf) > MaxHeaderLine {
				r.malformed(string(r.buf[:64]), ErrLineTooLong)
				r.buf = r.buf[:0]
				r.skipping = true
			}
			break
		}
		// The limit must not depend on whether the newline arrived in the
		// same read as the rest of the line.
		if idx > MaxHeaderLine {
			r.malformed(string(r.buf[:64]), ErrLineTooLong)
			r.buf = r.buf[idx+1:]
			continue
		}

		line := string(r.buf[:idx])
		r.buf = r.buf[idx+1:]

		frame, err := ParseHeader(line)
		if err != nil {
			r.malformed(line, err)
			continue
		}
		if hdr, ok := frame.(ImageHeader); ok {
			if hdr.Length > r.maxImage {
				// The header still refreshes presence; no body follows it.
				// Skip the announced body so framing stays in sync.
				r.malformed(line, ErrImageTooLarge)
				r.discard = hdr.Length
				frames = append(frames, frame)
				continue
			}
			r.pending = &hdr
		}
		frames = append(frames, frame)
	}

	if len(r.buf) == 0 {
		r.buf = nil
	}
	return frames
}

// Pending reports whether an image body is partially received.
func (r *Reassembler) Pending() bool {
	return r.pending != nil
}

// Buffered returns the number of unconsumed bytes.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset discards all in-flight state.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.pending = nil
	r.skipping = false
	r.discard = 0
}

func (r *Reassembler) malformed(line string, err error) {
	if r.OnMalformed != nil {
		r.OnMalformed(line, err)
	}
}
