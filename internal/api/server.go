package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/gemm"
	"github.com/samcharles93/systolic/internal/logger"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tensor"
	"github.com/samcharles93/systolic/internal/tile"
	"github.com/samcharles93/systolic/pkg/wire"
)

const (
	DefaultMaxBodyBytes    = 1 << 30
	DefaultMaxWorkingBytes = 4 << 30
)

type Options struct {
	TransferTimeout time.Duration
	MaxBodyBytes    int64
	// MaxWorkingBytes caps the host buffers one multiply may allocate.
	// Padding can make them far larger than the request body.
	MaxWorkingBytes int64
	Logger          logger.Logger
}

// Server exposes the accelerator over HTTP: /load configures it, /gemm
// multiplies, /status reports the loaded configuration.
type Server struct {
	manager *accel.Manager
	opts    Options
	log     logger.Logger
}

func NewServer(manager *accel.Manager, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxWorkingBytes <= 0 {
		opts.MaxWorkingBytes = DefaultMaxWorkingBytes
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		manager: manager,
		opts:    opts,
		log:     log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET(wire.PathLoad, s.handleLoadQuery)
	e.POST(wire.PathLoad, s.handleLoadJSON)
	e.POST(wire.PathGEMM, s.handleGEMM)
	e.GET(wire.PathStatus, s.handleStatus)
}

func (s *Server) handleLoadQuery(c *echo.Context) error {
	cfg, force, err := configFromQuery(c.Request().URL.Query())
	if err != nil {
		return writeFailure(c, err)
	}
	return s.load(c, cfg, force)
}

func (s *Server) handleLoadJSON(c *echo.Context) error {
	var req LoadRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return writeFailure(c, newMalformed("decode load request: "+err.Error()))
	}
	cfg, err := req.config()
	if err != nil {
		return writeFailure(c, err)
	}
	return s.load(c, cfg, req.Force)
}

func (s *Server) load(c *echo.Context, cfg accel.Config, force bool) error {
	ctx := logger.WithContext(c.Request().Context(), s.log)
	loaded, err := s.manager.Load(ctx, cfg, force)
	if err != nil {
		return writeFailure(c, err)
	}
	if c.Request().Method == http.MethodGet {
		return c.NoContent(http.StatusOK)
	}
	return writeJSON(c, http.StatusOK, LoadResponse{Loaded: loaded, Image: cfg.Image().Name()})
}

func (s *Server) handleStatus(c *echo.Context) error {
	cfg, ok := s.manager.Current()
	if !ok {
		return writeJSON(c, http.StatusOK, StatusResponse{})
	}
	resp := StatusResponse{
		Configured: true,
		Ready:      s.manager.Ready(),
		Config:     &cfg,
		Image:      cfg.Image().Name(),
	}
	if class, err := cfg.Precision(); err == nil {
		resp.Precision = class.String()
	}
	return writeJSON(c, http.StatusOK, resp)
}

type gemmShape struct {
	ar, ac, br, bc int
}

func (s *Server) handleGEMM(c *echo.Context) error {
	req := c.Request()

	var shape gemmShape
	for _, d := range []struct {
		name string
		dst  *int
	}{
		{wire.HeaderAr, &shape.ar},
		{wire.HeaderAc, &shape.ac},
		{wire.HeaderBr, &shape.br},
		{wire.HeaderBc, &shape.bc},
	} {
		v, err := parseDim(req.Header, d.name)
		if err != nil {
			return writeFailure(c, err)
		}
		*d.dst = v
	}
	if ct := req.Header.Get(echo.HeaderContentType); mediaType(ct) != wire.MIMEOctetStream {
		return writeFailure(c, newMalformed(fmt.Sprintf("content type must be %s, got %q", wire.MIMEOctetStream, ct)))
	}
	// Everything checkable from the headers is checked against the current
	// configuration before the body is read or the device lock is taken.
	cfg, ok := s.manager.Current()
	if !ok {
		return writeFailure(c, accel.ErrNotConfigured)
	}
	if err := s.admit(req.ContentLength, shape, cfg); err != nil {
		return writeFailure(c, err)
	}
	body := make([]byte, req.ContentLength)
	if _, err := io.ReadFull(req.Body, body); err != nil {
		return writeFailure(c, newMalformed("read body: "+err.Error()))
	}

	id := newRequestID()
	log := s.log.With("request_id", id)
	ctx := logger.WithContext(req.Context(), log)

	var (
		payload    []byte
		rows, cols int
	)
	err := s.manager.With(ctx, func(sess *accel.Session) error {
		// A load may have landed since the snapshot.
		if sess.Config != cfg {
			if err := s.admit(int64(len(body)), shape, sess.Config); err != nil {
				return err
			}
		}
		class, err := sess.Config.Precision()
		if err != nil {
			return err
		}
		switch class {
		case precision.Class8:
			payload, rows, cols, err = multiplyAs[uint8](ctx, sess, shape, body, s.opts)
		case precision.Class16:
			payload, rows, cols, err = multiplyAs[uint16](ctx, sess, shape, body, s.opts)
		default:
			payload, rows, cols, err = multiplyAs[uint32](ctx, sess, shape, body, s.opts)
		}
		return err
	})
	if err != nil {
		log.Warn("gemm failed", "error", err)
		return writeFailure(c, err)
	}

	h := c.Response().Header()
	h.Set(wire.HeaderYr, strconv.Itoa(rows))
	h.Set(wire.HeaderYc, strconv.Itoa(cols))
	h.Set(wire.HeaderRequestID, id)
	return c.Blob(http.StatusOK, wire.MIMEOctetStream, payload)
}

// admit rejects a multiply request whose declared length, shape or host
// working set does not fit cfg.
func (s *Server) admit(length int64, shape gemmShape, cfg accel.Config) error {
	class, err := cfg.Precision()
	if err != nil {
		return err
	}
	want := int64(wire.ExpectedLength(shape.ar, shape.ac, shape.br, shape.bc, class))
	switch {
	case length < 0:
		return newMalformed("missing Content-Length")
	case want > s.opts.MaxBodyBytes:
		return newMalformed(fmt.Sprintf("body of %d bytes exceeds limit of %d", want, s.opts.MaxBodyBytes))
	case length != want:
		return newMalformed(fmt.Sprintf("content length %d does not match %dx%d and %dx%d %s operands (%d bytes)",
			length, shape.ar, shape.ac, shape.br, shape.bc, class, want))
	}
	plan, err := tile.New(shape.ar, shape.ac, shape.br, shape.bc, cfg.Geometry())
	if err != nil {
		return err
	}
	if ws := gemm.WorkingSet(plan, class); ws > s.opts.MaxWorkingBytes {
		return newMalformed(fmt.Sprintf("%dx%d by %dx%d needs %d bytes of host buffers, limit %d",
			shape.ar, shape.ac, shape.br, shape.bc, ws, s.opts.MaxWorkingBytes))
	}
	return nil
}

func multiplyAs[T precision.Element](ctx context.Context, sess *accel.Session, shape gemmShape, body []byte, opts Options) ([]byte, int, int, error) {
	split := shape.ar * shape.ac * precision.Of[T]().Bytes()

	a := tensor.New[T](shape.ar, shape.ac)
	if err := wire.Decode(a.Data, body[:split]); err != nil {
		return nil, 0, 0, newMalformed(err.Error())
	}
	b := tensor.New[T](shape.br, shape.bc)
	if err := wire.Decode(b.Data, body[split:]); err != nil {
		return nil, 0, 0, newMalformed(err.Error())
	}

	y, st, err := gemm.Multiply(ctx, sess, a, b, gemm.Options{
		TransferTimeout: opts.TransferTimeout,
		MaxWorkingBytes: opts.MaxWorkingBytes,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	logger.FromContext(ctx).Info("gemm",
		"shape", fmt.Sprintf("%dx%dx%d", shape.ar, shape.ac, shape.bc),
		"rounds", st.Rounds,
		"fpga", st.Transfer,
		"total", st.Total,
	)
	return wire.Encode(make([]byte, 0, len(y.Data)*precision.Of[T]().Bytes()), y.Data), y.Rows, y.Cols, nil
}

// configFromQuery reads a load request's query parameters. Every parameter
// but force is required.
func configFromQuery(q url.Values) (accel.Config, bool, error) {
	var cfg accel.Config
	if !q.Has(wire.ParamPart) {
		return cfg, false, newMalformed("missing " + wire.ParamPart)
	}
	cfg.Part = q.Get(wire.ParamPart)

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{wire.ParamR, &cfg.R},
		{wire.ParamC, &cfg.C},
		{wire.ParamN, &cfg.N},
		{wire.ParamEs, &cfg.Es},
		{wire.ParamQSize, &cfg.QSize},
		{wire.ParamDepth, &cfg.Depth},
		{wire.ParamNumThreads, &cfg.NumThreads},
	} {
		if !q.Has(p.name) {
			return cfg, false, newMalformed("missing " + p.name)
		}
		v, err := strconv.Atoi(q.Get(p.name))
		if err != nil {
			return cfg, false, newMalformed(fmt.Sprintf("invalid %s: %q", p.name, q.Get(p.name)))
		}
		*p.dst = v
	}

	force := false
	if q.Has(wire.ParamForce) {
		v, err := strconv.ParseBool(q.Get(wire.ParamForce))
		if err != nil {
			return cfg, false, newMalformed(fmt.Sprintf("invalid %s: %q", wire.ParamForce, q.Get(wire.ParamForce)))
		}
		force = v
	}
	return cfg, force, nil
}

func (r LoadRequest) config() (accel.Config, error) {
	missing := func(name string) error { return newMalformed("missing " + name) }
	switch {
	case r.Part == nil:
		return accel.Config{}, missing("part")
	case r.R == nil:
		return accel.Config{}, missing("r")
	case r.C == nil:
		return accel.Config{}, missing("c")
	case r.N == nil:
		return accel.Config{}, missing("n")
	case r.Es == nil:
		return accel.Config{}, missing("es")
	case r.QSize == nil:
		return accel.Config{}, missing("qsize")
	case r.Depth == nil:
		return accel.Config{}, missing("depth")
	case r.NumThreads == nil:
		return accel.Config{}, missing("num_threads")
	}
	return accel.Config{
		Part:       *r.Part,
		R:          *r.R,
		C:          *r.C,
		N:          *r.N,
		Es:         *r.Es,
		QSize:      *r.QSize,
		Depth:      *r.Depth,
		NumThreads: *r.NumThreads,
	}, nil
}
