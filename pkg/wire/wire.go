// Package wire defines the request/response framing shared by the GEMM
// server and its clients.
//
// A multiply request carries the operand shapes in the Ar, Ac, Br and Bc
// headers and a raw body of Ar*Ac elements of A followed by Br*Bc elements
// of B, both row-major, each element little-endian. The response body holds
// the Yr×Yc product in the same encoding.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/samcharles93/systolic/internal/precision"
)

const (
	PathLoad   = "/load"
	PathGEMM   = "/gemm"
	PathStatus = "/status"

	HeaderAr        = "Ar"
	HeaderAc        = "Ac"
	HeaderBr        = "Br"
	HeaderBc        = "Bc"
	HeaderYr        = "Yr"
	HeaderYc        = "Yc"
	HeaderRequestID = "X-Request-Id"

	MIMEOctetStream = "application/octet-stream"
)

// Query parameters of the load request.
const (
	ParamPart       = "Part"
	ParamR          = "R"
	ParamC          = "C"
	ParamN          = "N"
	ParamEs         = "Es"
	ParamQSize      = "QSize"
	ParamDepth      = "Depth"
	ParamNumThreads = "num_threads"
	ParamForce      = "force"
)

var ErrShortBuffer = errors.New("wire: buffer length does not match element count")

// ExpectedLength is the body size in bytes of a multiply request.
func ExpectedLength(ar, ac, br, bc int, class precision.Class) int {
	return (ar*ac + br*bc) * class.Bytes()
}

// Encode appends src to dst as little-endian elements.
func Encode[T precision.Element](dst []byte, src []T) []byte {
	switch precision.Of[T]() {
	case precision.Class8:
		for _, v := range src {
			dst = append(dst, uint8(v))
		}
	case precision.Class16:
		for _, v := range src {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
		}
	default:
		for _, v := range src {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
		}
	}
	return dst
}

// Decode fills dst from little-endian elements in src. len(src) must be
// exactly len(dst) elements.
func Decode[T precision.Element](dst []T, src []byte) error {
	class := precision.Of[T]()
	if len(src) != len(dst)*class.Bytes() {
		return fmt.Errorf("%w: %d bytes for %d %s elements", ErrShortBuffer, len(src), len(dst), class)
	}
	switch class {
	case precision.Class8:
		for i := range dst {
			dst[i] = T(src[i])
		}
	case precision.Class16:
		for i := range dst {
			dst[i] = T(binary.LittleEndian.Uint16(src[2*i:]))
		}
	default:
		for i := range dst {
			dst[i] = T(binary.LittleEndian.Uint32(src[4*i:]))
		}
	}
	return nil
}
