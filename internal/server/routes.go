package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/upnp-control-go/internal/api"
	"github.com/strefethen/upnp-control-go/internal/apperrors"
	"github.com/strefethen/upnp-control-go/internal/controlpoint"
	"github.com/strefethen/upnp-control-go/internal/sink/journal"
)

// registerDeviceRoutes wires device management and action invocation.
func registerDeviceRoutes(router chi.Router, cp *controlpoint.ControlPoint) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteList(w, "/v1/devices", cp.Devices(), false)
	}))

	router.Method(http.MethodPost, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("url is required", nil)
		}
		parsed, err := url.Parse(body.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return apperrors.NewValidationError("url must be an absolute http(s) URL", map[string]any{"url": body.URL})
		}

		if err := cp.Add(body.URL); err != nil {
			return err
		}
		// A failed connect still leaves the device managed; polling retries it.
		device, _ := cp.Connect(r.Context(), body.URL)
		info, err := cp.Info(body.URL)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusCreated, newDeviceView(info, device))
	}))

	router.Method(http.MethodGet, "/v1/devices/{udn}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		key := pathParam(r, "udn")
		info, err := cp.Info(key)
		if err != nil {
			return mapError(err)
		}
		device, _ := cp.Device(key)
		return api.WriteResource(w, http.StatusOK, newDeviceView(info, device))
	}))

	router.Method(http.MethodDelete, "/v1/devices/{udn}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := cp.Remove(r.Context(), pathParam(r, "udn")); err != nil {
			return mapError(err)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}))

	router.Method(http.MethodGet, "/v1/devices/{udn}/services/{serviceId}/state-variables/{name}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		svc, sv, err := cp.LookupStateVariable(pathParam(r, "udn"), pathParam(r, "serviceId"), pathParam(r, "name"))
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, stateVariableResource{
			Object:            "state_variable",
			ServiceID:         svc.ServiceID(),
			WireValue:         sv.WireValue(),
			stateVariableView: newStateVariableView(sv),
		})
	}))

	router.Method(http.MethodPost, "/v1/devices/{udn}/services/{serviceId}/actions/{action}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		key := pathParam(r, "udn")
		serviceID := pathParam(r, "serviceId")
		actionName := pathParam(r, "action")

		var body struct {
			Args map[string]string `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("body must be {\"args\": {name: wire value}}", nil)
		}

		svc, action, err := cp.LookupAction(key, serviceID, actionName)
		if err != nil {
			return mapError(err)
		}

		args := make(map[string]any, len(body.Args))
		for name, wire := range body.Args {
			arg := action.Argument(name, "in")
			if arg == nil {
				return apperrors.NewValidationError("unknown argument "+name, map[string]any{"argument": name})
			}
			value, err := arg.StateVariable.CoerceNative(wire)
			if err != nil {
				return mapError(err)
			}
			args[name] = value
		}

		out, err := svc.CallAction(r.Context(), action, args)
		if err != nil {
			return mapError(err)
		}

		names := make([]string, 0, len(out))
		for name := range out {
			names = append(names, name)
		}
		sort.Strings(names)

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":     "action_result",
			"service_id": svc.ServiceID(),
			"action":     action.Name(),
			"out":        out,
			"out_names":  names,
		})
	}))
}

// registerHistoryRoutes serves the state change journal.
func registerHistoryRoutes(router chi.Router, j *journal.Journal) {
	router.Method(http.MethodGet, "/v1/history", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return apperrors.NewValidationError("limit must be a non-negative integer", map[string]any{"limit": raw})
			}
			limit = parsed
		}

		entries, err := j.Recent(r.Context(), r.URL.Query().Get("device"), limit)
		if err != nil {
			return err
		}
		return api.WriteList(w, "/v1/history", entries, false)
	}))
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
