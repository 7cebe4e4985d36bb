package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/invopop/jsonschema"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/strategy"
)

// StrategyInfo describes one evaluator and its tunable parameters.
type StrategyInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    strategy.Params    `json:"defaults"`
	Schema      *jsonschema.Schema `json:"schema"`
}

func describe(s strategy.Strategy) StrategyInfo {
	return StrategyInfo{
		Name:        s.Name(),
		Description: s.Description(),
		Defaults:    strategy.Defaults(s),
		Schema:      strategy.Schema(s),
	}
}

// ListStrategies handles GET /strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	all := h.engine.GetAll()
	out := make([]StrategyInfo, 0, len(all))
	for _, s := range all {
		out = append(out, describe(s))
	}
	response.JSON(w, http.StatusOK, out)
}

// GetStrategy handles GET /strategies/{name}.
func (h *Handler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Lookup(mux.Vars(r)["name"])
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, describe(s))
}
