package protocol

import "strconv"

// CameraID identifies a station position. Valid IDs are 1..MaxCameraID.
type CameraID int

const (
	MinCameraID CameraID = 1
	MaxCameraID CameraID = 4
)

// AllCameras lists every valid camera position in order.
var AllCameras = []CameraID{1, 2, 3, 4}

// Valid reports whether id names one of the fixed camera positions.
func (id CameraID) Valid() bool {
	return id >= MinCameraID && id <= MaxCameraID
}

func (id CameraID) String() string {
	return strconv.Itoa(int(id))
}

// Frame is one decoded protocol unit. The set of implementations is closed.
type Frame interface {
	isFrame()
}

// Handshake is sent once by a station right after it connects.
type Handshake struct {
	CameraID CameraID
}

// IdentityUpdate rebinds the sending connection to a new camera ID.
type IdentityUpdate struct {
	CameraID CameraID
}

// ImageHeader announces an image body of Length bytes. It also refreshes the
// connection's identity.
type ImageHeader struct {
	CameraID CameraID
	Length   int
}

// ImageBody carries the bytes announced by the preceding ImageHeader.
type ImageBody struct {
	CameraID CameraID
	Data     []byte
}

// Command is a controller to station instruction.
type Command struct {
	Name string
}

const CommandShutter = "shutter"

func (Handshake) isFrame()      {}
func (IdentityUpdate) isFrame() {}
func (ImageHeader) isFrame()    {}
func (ImageBody) isFrame()      {}
func (Command) isFrame()        {}

// Identity returns the camera ID a frame asserts for its connection, if any.
// Image bodies do not assert identity; they inherit it from their header.
func Identity(f Frame) (CameraID, bool) {
	switch v := f.(type) {
	case Handshake:
		return v.CameraID, true
	case IdentityUpdate:
		return v.CameraID, true
	case ImageHeader:
		return v.CameraID, true
	default:
		return 0, false
	}
}
