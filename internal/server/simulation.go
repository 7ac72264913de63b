package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"donorline/internal/config"
	"donorline/internal/domain"
	"donorline/internal/events"
	"donorline/internal/simulation"
)

func (a api) registerSimulation(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "start-simulation",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/simulation/start",
		Summary:     "Start a simulation run",
		Description: "Replaces any running or paused run of the organization. Omitted fields take the organization's simulation defaults.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string                 `path:"org_id"`
		Body  StartSimulationRequest `json:"body" required:"false"`
	}) (*struct {
		Body StartSimulationResponse `json:"body"`
	}, error) {
		actorID, err := a.requirePermission(ctx, input.OrgID, "simulation.run")
		if err != nil {
			return nil, handleError(err)
		}
		orgCfg, err := a.e.OrgConfig(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := simulationConfig(input.Body, orgCfg.Simulation)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.TargetDonorID != "" {
			if _, err := a.e.GetDonor(ctx, input.OrgID, input.Body.TargetDonorID); err != nil {
				return nil, handleError(fmt.Errorf("target donor %s: %w", input.Body.TargetDonorID, err))
			}
		}
		snap, err := a.sim.Start(ctx, input.OrgID, input.Body.TargetDonorID, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		a.recordSimulationEvent(ctx, events.SimulationStarted, input.OrgID, snap.RunID, actorID, events.EventPayload{
			"target_donor_id": snap.TargetDonorID,
			"donor_limit":     snap.Config.DonorLimit,
			"speed":           snap.Config.Speed,
			"realism":         snap.Config.Realism,
			"activity_types":  snap.Config.EnabledTypes(),
		})
		return &struct {
			Body StartSimulationResponse `json:"body"`
		}{Body: StartSimulationResponse{
			Success: true,
			RunID:   snap.RunID,
			Status:  snap.Status,
			Config:  snap.Config,
			Message: fmt.Sprintf("Simulation started at speed %d", snap.Config.Speed),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-simulation",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/simulation/stop",
		Summary:     "Stop simulation runs",
		Description: "Stops the given run, or every active run of the organization when run_id is empty.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string                `path:"org_id"`
		Body  StopSimulationRequest `json:"body" required:"false"`
	}) (*struct {
		Body StopSimulationResponse `json:"body"`
	}, error) {
		actorID, err := a.requirePermission(ctx, input.OrgID, "simulation.run")
		if err != nil {
			return nil, handleError(err)
		}
		n, err := a.sim.Stop(ctx, input.OrgID, input.Body.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		msg := "No active simulation"
		if n > 0 {
			msg = fmt.Sprintf("Stopped %d simulation(s)", n)
			a.recordSimulationEvent(ctx, events.SimulationStopped, input.OrgID, input.Body.RunID, actorID, events.EventPayload{"stopped_count": n})
		}
		return &struct {
			Body StopSimulationResponse `json:"body"`
		}{Body: StopSimulationResponse{Success: true, StoppedCount: n, Message: msg}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pause-simulation",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/simulation/pause",
		Summary:     "Pause the running simulation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body SimulationStateResponse `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "simulation.run"); err != nil {
			return nil, handleError(err)
		}
		snap, err := a.sim.Pause(ctx, input.OrgID)
		resp, err := stateResponse(snap, snap.PausedAt, err, "Simulation paused", "No running simulation to pause")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SimulationStateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-simulation",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/simulation/resume",
		Summary:     "Resume the paused simulation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body SimulationStateResponse `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "simulation.run"); err != nil {
			return nil, handleError(err)
		}
		snap, err := a.sim.Resume(ctx, input.OrgID)
		resp, err := stateResponse(snap, snap.ResumedAt, err, "Simulation resumed", "No paused simulation to resume")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SimulationStateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "simulation-status",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/simulation",
		Summary:     "Active simulation runs",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		RunID string `query:"run_id"`
	}) (*struct {
		Body SimulationStatusResponse `json:"body"`
	}, error) {
		if _, err := a.requirePermission(ctx, input.OrgID, "simulation.read"); err != nil {
			return nil, handleError(err)
		}
		runs := nonNilSlice(a.sim.Status(input.OrgID, input.RunID))
		return &struct {
			Body SimulationStatusResponse `json:"body"`
		}{Body: SimulationStatusResponse{Success: true, Runs: runs, Count: len(runs)}}, nil
	})
}

// simulationConfig merges a start request over the organization's defaults.
// Speed and realism are clamped later; unknown activity types are rejected.
func simulationConfig(req StartSimulationRequest, defaults config.SimulationDefaults) (simulation.RunConfig, error) {
	cfg := simulation.RunConfig{
		DonorLimit: defaults.DonorLimit,
		Speed:      defaults.Speed,
		Realism:    defaults.Realism,
	}
	if req.DonorLimit != nil {
		cfg.DonorLimit = *req.DonorLimit
	}
	if req.Speed != nil {
		cfg.Speed = *req.Speed
	}
	if req.Realism != nil {
		cfg.Realism = *req.Realism
	} else if cfg.Realism == 0 {
		cfg.Realism = simulation.MaxRealism
	}
	if len(req.ActivityTypes) > 0 {
		seen := map[string]bool{}
		for _, t := range req.ActivityTypes {
			if !validActivityType(t.Type) {
				return simulation.RunConfig{}, newAPIError(http.StatusBadRequest, "invalid_config", "unknown activity type "+t.Type,
					map[string]any{"activity_types": t.Type})
			}
			if seen[t.Type] {
				return simulation.RunConfig{}, newAPIError(http.StatusBadRequest, "invalid_config", "duplicate activity type "+t.Type,
					map[string]any{"activity_types": t.Type})
			}
			seen[t.Type] = true
		}
		cfg.ActivityTypes = req.ActivityTypes
	} else if len(defaults.ActivityTypes) > 0 {
		enabled := map[string]bool{}
		for _, t := range defaults.ActivityTypes {
			enabled[t] = true
		}
		for _, t := range domain.ActivityTypes {
			cfg.ActivityTypes = append(cfg.ActivityTypes, simulation.ActivityToggle{Type: t, Enabled: enabled[t]})
		}
	}
	return cfg, nil
}

func validActivityType(t string) bool {
	for _, known := range domain.ActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

func stateResponse(snap simulation.Snapshot, at *time.Time, err error, okMsg, noRunMsg string) (SimulationStateResponse, error) {
	if errors.Is(err, simulation.ErrNoActiveRun) {
		return SimulationStateResponse{Success: false, Timestamp: time.Now().UTC().Format(time.RFC3339), Message: noRunMsg}, nil
	}
	if err != nil {
		return SimulationStateResponse{}, err
	}
	ts := time.Now().UTC()
	if at != nil {
		ts = at.UTC()
	}
	return SimulationStateResponse{Success: true, Status: snap.Status, Timestamp: ts.Format(time.RFC3339), Message: okMsg}, nil
}

// recordSimulationEvent appends a lifecycle event; failures are logged only
// since the run itself already changed state.
func (a api) recordSimulationEvent(ctx context.Context, evtType, orgID, runID, actorID string, payload events.EventPayload) {
	if err := a.e.RecordSimulationEvent(ctx, evtType, orgID, runID, actorID, payload); err != nil {
		a.log.Warn("simulation event not recorded",
			zap.String("type", evtType),
			zap.String("org_id", orgID),
			zap.String("run_id", runID),
			zap.Error(err))
	}
}
