package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/gemm"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tile"
)

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, errorEnvelope{Error: ResponseError{Message: msg, Type: errType}})
}

// writeFailure maps err onto a status code. Caller mistakes are 400s;
// anything the device or the host raised is a 500 carrying its text.
func writeFailure(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, tile.ErrDimensionMismatch),
		errors.Is(err, tile.ErrInvalidShape),
		errors.Is(err, tile.ErrInvalidGeometry),
		errors.Is(err, precision.ErrUnsupportedPrecision),
		errors.Is(err, accel.ErrInvalidConfig),
		errors.Is(err, gemm.ErrPrecisionMismatch),
		errors.Is(err, gemm.ErrTooLarge):
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, accel.ErrNotConfigured):
		return writeError(c, http.StatusConflict, "not_configured_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// maxDim keeps body-size arithmetic on operand shapes far from overflow.
const maxDim = 1 << 24

// parseDim reads a non-negative integer header.
func parseDim(h http.Header, name string) (int, error) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, newMalformed("missing " + name + " header")
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > maxDim {
		return 0, newMalformed("invalid " + name + " header: " + strconv.Quote(raw))
	}
	return v, nil
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func newRequestID() string {
	return "gemm_" + uuid.NewString()
}
