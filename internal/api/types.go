package api

import "github.com/samcharles93/systolic/internal/accel"

// LoadRequest is the JSON body of POST /load. Pointer fields distinguish a
// missing parameter from a zero one.
type LoadRequest struct {
	Part       *string `json:"part"`
	R          *int    `json:"r"`
	C          *int    `json:"c"`
	N          *int    `json:"n"`
	Es         *int    `json:"es"`
	QSize      *int    `json:"qsize"`
	Depth      *int    `json:"depth"`
	NumThreads *int    `json:"num_threads"`
	Force      bool    `json:"force,omitempty"`
}

type LoadResponse struct {
	Loaded bool   `json:"loaded"`
	Image  string `json:"image"`
}

type StatusResponse struct {
	Configured bool          `json:"configured"`
	// Ready is false after a failed load until the next load succeeds.
	Ready      bool          `json:"ready"`
	Config     *accel.Config `json:"config,omitempty"`
	Image      string        `json:"image,omitempty"`
	Precision  string        `json:"precision,omitempty"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

type errorEnvelope struct {
	Error ResponseError `json:"error"`
}
