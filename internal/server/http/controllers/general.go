package controllers

import (
	"net/http"

	"github.com/rzbill/rtps/internal/runtime"
)

// GeneralController serves participant-wide endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes sets up:
// - Health checks (/healthz, /v1/healthz)
// - Participant summary (/v1/participant)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", c.handleHealth)
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	mux.HandleFunc("GET /v1/participant", c.handleParticipant)
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503
// Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type participantResp struct {
	Prefix   string `json:"prefix"`
	Writers  int    `json:"writers"`
	Received uint64 `json:"received_messages"`
	Rejected uint64 `json:"rejected_messages"`
	Sender   any    `json:"sender"`
	UDP      string `json:"udp,omitempty"`
}

func (c *GeneralController) handleParticipant(w http.ResponseWriter, r *http.Request) {
	decoded, rejected := c.rt.Received()
	resp := participantResp{
		Prefix:   c.rt.Prefix().String(),
		Writers:  len(c.rt.Writers()),
		Received: decoded,
		Rejected: rejected,
		Sender:   c.rt.Sender().Stats(),
	}
	if l, ok := c.rt.UDPLocator(); ok {
		resp.UDP = l.String()
	}
	writeJSON(w, resp)
}
