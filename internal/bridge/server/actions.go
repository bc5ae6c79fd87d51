package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Vehicle is the set of operator actions exposed under /api/v1/vehicle.
type Vehicle interface {
	ArmVehicle(ctx context.Context) (bool, error)
	DisarmVehicle(ctx context.Context) (bool, error)
	ArmVehicleWithRetry(ctx context.Context) (bool, error)
	DisarmVehicleWithRetry(ctx context.Context) (bool, error)
	EmergencyStop(ctx context.Context) error
	EnablePropulsion() error
	DisablePropulsion() error
	SetAllowOverride(allow bool)
}

// ActionResult is the body of every vehicle action response.
type ActionResult struct {
	Action    string `json:"action"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

var errUnknownAction = errors.New("unknown action")

// vehicleAction dispatches POST /api/v1/vehicle/{action}. Arm and disarm
// accept ?retry=true for the bounded-retry variant; override takes
// ?allow=true|false.
func (s *Server) vehicleAction(v Vehicle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := mux.Vars(r)["action"]
		retry, _ := strconv.ParseBool(r.URL.Query().Get("retry"))
		ctx := r.Context()

		res := ActionResult{Action: action}
		var err error
		switch action {
		case "arm":
			if retry {
				res.Confirmed, err = v.ArmVehicleWithRetry(ctx)
			} else {
				res.Confirmed, err = v.ArmVehicle(ctx)
			}
		case "disarm":
			if retry {
				res.Confirmed, err = v.DisarmVehicleWithRetry(ctx)
			} else {
				res.Confirmed, err = v.DisarmVehicle(ctx)
			}
		case "emergency-stop":
			err = v.EmergencyStop(ctx)
			res.Confirmed = err == nil
		case "propulsion-on":
			err = v.EnablePropulsion()
			res.Confirmed = err == nil
		case "propulsion-off":
			err = v.DisablePropulsion()
			res.Confirmed = err == nil
		case "override":
			var allow bool
			allow, err = strconv.ParseBool(r.URL.Query().Get("allow"))
			if err == nil {
				v.SetAllowOverride(allow)
				res.Confirmed = true
			}
		default:
			err = errUnknownAction
		}

		code := http.StatusOK
		switch {
		case errors.Is(err, errUnknownAction):
			code = http.StatusNotFound
		case err != nil:
			code = http.StatusConflict
		}
		if err != nil {
			res.Error = err.Error()
			s.logger.Warn("Vehicle action failed", "action", action, "err", err.Error())
		} else {
			s.logger.Info("Vehicle action", "action", action, "confirmed", res.Confirmed)
		}
		s.writeJSON(w, code, res)
	}
}
