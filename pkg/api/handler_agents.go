package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/quantflow/argus/pkg/agents"
)

// AgentConfigPayload is the wire shape of one phase file.
type AgentConfigPayload struct {
	CustomModes []agents.Record `json:"customModes"`
}

// getAgentConfigHandler handles GET /agent-configs/:phase. A missing
// phase file answers with an empty record list, not an error.
func (s *Server) getAgentConfigHandler(c *echo.Context) error {
	phase, err := parsePhase(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	records, exists, err := s.records.Phase(phase)
	if err != nil {
		return failErr(c, err)
	}
	if records == nil {
		records = []agents.Record{}
	}
	return ok(c, map[string]any{
		"customModes": records,
		"exists":      exists,
		"path":        s.records.Path(phase),
	})
}

// putAgentConfigHandler handles PUT /agent-configs/:phase. The whole file
// is replaced atomically; validation failures leave it untouched.
func (s *Server) putAgentConfigHandler(c *echo.Context) error {
	phase, err := parsePhase(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	var payload AgentConfigPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	saved, err := s.records.Save(phase, payload.CustomModes)
	if err != nil {
		return failErr(c, err)
	}
	return okMessage(c, map[string]any{"saved": len(saved), "customModes": saved}, "配置已保存")
}

func parsePhase(c *echo.Context) (int, error) {
	phase, err := strconv.Atoi(c.Param("phase"))
	if err != nil || phase < agents.PhaseMin || phase > agents.PhaseMax {
		return 0, &queryError{"invalid phase: must be 1-4"}
	}
	return phase, nil
}
