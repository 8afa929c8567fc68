package server

import (
	"time"

	"github.com/strefethen/upnp-control-go/internal/controlpoint"
	"github.com/strefethen/upnp-control-go/internal/upnp"
)

type deviceView struct {
	Object string `json:"object"`
	controlpoint.DeviceInfo
	Services []serviceView `json:"services,omitempty"`
}

type serviceView struct {
	ServiceType    string              `json:"service_type"`
	ServiceID      string              `json:"service_id"`
	ControlURL     string              `json:"control_url"`
	EventSubURL    string              `json:"event_sub_url"`
	SCPDURL        string              `json:"scpd_url"`
	SubscriptionID string              `json:"subscription_id,omitempty"`
	Actions        []actionView        `json:"actions"`
	StateVariables []stateVariableView `json:"state_variables"`
}

type actionView struct {
	Name string         `json:"name"`
	In   []argumentView `json:"in"`
	Out  []argumentView `json:"out"`
}

type argumentView struct {
	Name          string `json:"name"`
	StateVariable string `json:"state_variable"`
}

type rangeView struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step,omitempty"`
}

type stateVariableView struct {
	Name          string     `json:"name"`
	DataType      string     `json:"data_type"`
	SendEvents    bool       `json:"send_events"`
	AllowedValues []string   `json:"allowed_values,omitempty"`
	Range         *rangeView `json:"range,omitempty"`
	Default       any        `json:"default,omitempty"`
	Value         any        `json:"value"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// stateVariableResource is a single state variable with its wire form.
type stateVariableResource struct {
	Object    string `json:"object"`
	ServiceID string `json:"service_id"`
	WireValue string `json:"wire_value"`
	stateVariableView
}

func newDeviceView(info controlpoint.DeviceInfo, device *upnp.Device) deviceView {
	view := deviceView{Object: "device", DeviceInfo: info}
	if device == nil {
		return view
	}
	for _, svc := range device.Services() {
		view.Services = append(view.Services, newServiceView(svc))
	}
	return view
}

func newServiceView(svc *upnp.Service) serviceView {
	view := serviceView{
		ServiceType:    svc.ServiceType(),
		ServiceID:      svc.ServiceID(),
		ControlURL:     svc.ControlURL(),
		EventSubURL:    svc.EventSubURL(),
		SCPDURL:        svc.SCPDURL(),
		SubscriptionID: svc.SubscriptionSID(),
		Actions:        []actionView{},
		StateVariables: []stateVariableView{},
	}
	for _, action := range svc.Actions() {
		view.Actions = append(view.Actions, actionView{
			Name: action.Name(),
			In:   argumentViews(action.InArguments()),
			Out:  argumentViews(action.OutArguments()),
		})
	}
	for _, sv := range svc.StateVariables() {
		view.StateVariables = append(view.StateVariables, newStateVariableView(sv))
	}
	return view
}

func argumentViews(args []*upnp.Argument) []argumentView {
	out := make([]argumentView, 0, len(args))
	for _, arg := range args {
		out = append(out, argumentView{Name: arg.Name, StateVariable: arg.StateVariable.Name()})
	}
	return out
}

func newStateVariableView(sv *upnp.StateVariable) stateVariableView {
	view := stateVariableView{
		Name:          sv.Name(),
		DataType:      sv.UPnPType(),
		SendEvents:    sv.SendEvents(),
		AllowedValues: sv.AllowedValues(),
		Default:       sv.Default(),
		Value:         sv.Value(),
	}
	if minValue, ok := sv.Min(); ok {
		maxValue, _ := sv.Max()
		view.Range = &rangeView{Min: minValue, Max: maxValue, Step: sv.Step()}
	}
	if updated := sv.UpdatedAt(); !updated.IsZero() {
		view.UpdatedAt = &updated
	}
	return view
}
