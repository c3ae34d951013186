package controllers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/runtime"
	"github.com/rzbill/rtps/internal/writer"
	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// maxSampleBody bounds POSTed sample payloads.
const maxSampleBody = 1 << 20

// WritersController exposes writer state and a sample publishing endpoint.
type WritersController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

func NewWritersController(rt *runtime.Runtime, logger log.Logger) *WritersController {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &WritersController{rt: rt, logger: logger.WithComponent("http-writers")}
}

// RegisterRoutes sets up:
// - GET /v1/writers
// - GET /v1/writers/{guid}
// - POST /v1/writers/{guid}/samples (raw body is the payload)
func (c *WritersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/writers", c.handleList)
	mux.HandleFunc("GET /v1/writers/{guid}", c.handleGet)
	mux.HandleFunc("POST /v1/writers/{guid}/samples", c.handleWrite)
}

func (c *WritersController) handleList(w http.ResponseWriter, _ *http.Request) {
	list := c.rt.Writers()
	out := make([]writer.Stats, len(list))
	for i, wr := range list {
		out[i] = wr.Stats()
	}
	writeJSON(w, map[string]any{"writers": out})
}

type writerResp struct {
	writer.Stats
	Readers       []string `json:"readers"`
	LateJoiners   []string `json:"late_joiners"`
	FixedLocators []string `json:"fixed_locators"`
	FirstForAll   uint64   `json:"first_seq_for_all"`
}

func (c *WritersController) handleGet(w http.ResponseWriter, r *http.Request) {
	wr, ok := c.lookup(w, r)
	if !ok {
		return
	}
	resp := writerResp{
		Stats:         wr.Stats(),
		Readers:       guidStrings(wr.MatchedReaders()),
		LateJoiners:   guidStrings(wr.LateJoiners()),
		FixedLocators: []string{},
		FirstForAll:   uint64(wr.FirstSequenceForAll()),
	}
	for _, l := range wr.FixedLocators() {
		resp.FixedLocators = append(resp.FixedLocators, l.String())
	}
	writeJSON(w, resp)
}

func (c *WritersController) handleWrite(w http.ResponseWriter, r *http.Request) {
	wr, ok := c.lookup(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSampleBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body) > maxSampleBody {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	seq, err := wr.Write(ctx, cache.KindAlive, cache.InstanceHandle{}, body)
	if err != nil {
		c.logger.Warn("sample rejected", log.Stringer("writer", wr.GUID()), log.Err(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]uint64{"sequence": uint64(seq)})
}

func (c *WritersController) lookup(w http.ResponseWriter, r *http.Request) (*writer.Writer, bool) {
	g, err := guid.Parse(r.PathValue("guid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid writer guid")
		return nil, false
	}
	wr, ok := c.rt.Writer(g)
	if !ok {
		writeError(w, http.StatusNotFound, "Writer not found")
		return nil, false
	}
	return wr, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrInvalidPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func guidStrings(list []guid.GUID) []string {
	out := make([]string, len(list))
	for i, g := range list {
		out[i] = g.String()
	}
	return out
}
