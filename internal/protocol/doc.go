// Package protocol implements the line-plus-body wire format spoken between
// camera stations and the controller.
//
// Header frames are single UTF-8 lines terminated by '\n' with ';'-separated
// fields:
//
//	HELLO;<id>          station announces its camera ID on connect
//	CAM_ID;<id>         station changes its camera ID on a live connection
//	IMAGE;<id>;<len>    followed by exactly <len> raw bytes of JPEG data
//	shutter             controller asks the station to capture
//
// There is no escaping, checksum, or version field. A Reassembler turns an
// arbitrary sequence of TCP reads into frames and yields the same frames
// regardless of how the bytes were split.
package protocol
