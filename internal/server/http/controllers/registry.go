package controllers

import (
	"net/http"

	"github.com/rzbill/rtps/internal/runtime"
	"github.com/rzbill/rtps/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	writers *WritersController
}

// NewControllerRegistry initializes all controllers with the provided runtime.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		writers: NewWritersController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.writers.RegisterRoutes(mux)
}
