package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultDescriptionTimeout bounds device description and SCPD fetches.
const DefaultDescriptionTimeout = 10 * time.Second

// DeviceDescriptionXML is the root of a device description document.
type DeviceDescriptionXML struct {
	XMLName xml.Name  `xml:"urn:schemas-upnp-org:device-1-0 root"`
	URLBase string    `xml:"URLBase"`
	Device  DeviceXML `xml:"device"`
}

// DeviceXML is a device element, root or embedded.
type DeviceXML struct {
	DeviceType   string       `xml:"deviceType"`
	FriendlyName string       `xml:"friendlyName"`
	UDN          string       `xml:"UDN"`
	Services     []ServiceXML `xml:"serviceList>service"`
	Devices      []DeviceXML  `xml:"deviceList>device"`
}

// ServiceXML is a serviceList entry.
type ServiceXML struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// SCPDXML is the root of a service description document.
type SCPDXML struct {
	XMLName        xml.Name            `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	Actions        []SCPDAction        `xml:"actionList>action"`
	StateVariables []SCPDStateVariable `xml:"serviceStateTable>stateVariable"`
}

// SCPDAction is an action element of an SCPD.
type SCPDAction struct {
	Name      string         `xml:"name"`
	Arguments []SCPDArgument `xml:"argumentList>argument"`
}

// SCPDArgument is an argument element of an SCPD action.
type SCPDArgument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

// SCPDStateVariable is a stateVariable element of an SCPD.
type SCPDStateVariable struct {
	SendEvents    string          `xml:"sendEvents,attr"`
	Name          string          `xml:"name"`
	DataType      string          `xml:"dataType"`
	DefaultValue  *string         `xml:"defaultValue"`
	AllowedValues []string        `xml:"allowedValueList>allowedValue"`
	Range         *SCPDValueRange `xml:"allowedValueRange"`
}

// SCPDValueRange is an allowedValueRange element.
type SCPDValueRange struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step"`
}

// Factory builds Device and Service graphs from description documents.
type Factory struct {
	requester          Requester
	descriptionTimeout time.Duration
	controlTimeout     time.Duration
	logger             *log.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDescriptionTimeout overrides the description fetch timeout.
func WithDescriptionTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.descriptionTimeout = d }
}

// WithControlTimeout overrides the timeout given to built services.
func WithControlTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.controlTimeout = d }
}

// WithLogger sets the logger used by the factory and the services it builds.
func WithLogger(logger *log.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a factory. A nil requester uses an HTTPRequester.
func NewFactory(requester Requester, opts ...FactoryOption) *Factory {
	f := &Factory{
		requester:          requester,
		descriptionTimeout: DefaultDescriptionTimeout,
		controlTimeout:     DefaultControlTimeout,
		logger:             log.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.requester == nil {
		f.requester = NewHTTPRequester(f.descriptionTimeout)
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	return f
}

// CreateDevice fetches a device description and every SCPD it references.
func (f *Factory) CreateDevice(ctx context.Context, deviceURL string) (*Device, error) {
	body, err := f.fetch(ctx, deviceURL)
	if err != nil {
		return nil, err
	}

	desc, err := ParseDeviceDescription(body)
	if err != nil {
		return nil, err
	}

	base := deviceURL
	if strings.TrimSpace(desc.URLBase) != "" {
		base = strings.TrimSpace(desc.URLBase)
	}

	var services []*Service
	for _, sx := range collectServices(desc.Device) {
		sd, err := resolveService(sx, base)
		if err != nil {
			return nil, err
		}
		svc, err := f.CreateService(ctx, sd)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	f.logger.Printf("UPNP: Built device %q with %d services from %s", desc.Device.FriendlyName, len(services), deviceURL)
	return NewDevice(deviceURL, strings.TrimSpace(desc.Device.FriendlyName), strings.TrimSpace(desc.Device.DeviceType), strings.TrimSpace(desc.Device.UDN), services), nil
}

// ParseDeviceDescription decodes and checks a device description document.
func ParseDeviceDescription(body []byte) (*DeviceDescriptionXML, error) {
	var desc DeviceDescriptionXML
	if err := xml.Unmarshal(body, &desc); err != nil {
		return nil, &ParseError{What: "device description", Err: err}
	}
	if strings.TrimSpace(desc.Device.FriendlyName) == "" {
		return nil, &ParseError{What: "device description: missing friendlyName"}
	}
	return &desc, nil
}

// ParseSCPD decodes a service description document.
func ParseSCPD(body []byte) (*SCPDXML, error) {
	var scpd SCPDXML
	if err := xml.Unmarshal(body, &scpd); err != nil {
		return nil, &ParseError{What: "service description", Err: err}
	}
	return &scpd, nil
}

func collectServices(d DeviceXML) []ServiceXML {
	out := append([]ServiceXML(nil), d.Services...)
	for _, child := range d.Devices {
		out = append(out, collectServices(child)...)
	}
	return out
}

func resolveService(sx ServiceXML, base string) (ServiceDescription, error) {
	sd := ServiceDescription{
		ServiceType: strings.TrimSpace(sx.ServiceType),
		ServiceID:   strings.TrimSpace(sx.ServiceID),
	}
	if sd.ServiceType == "" || sd.ServiceID == "" {
		return sd, &ParseError{What: "service: missing serviceType or serviceId"}
	}

	fields := []struct {
		name string
		ref  string
		dst  *string
	}{
		{"controlURL", sx.ControlURL, &sd.ControlURL},
		{"eventSubURL", sx.EventSubURL, &sd.EventSubURL},
		{"SCPDURL", sx.SCPDURL, &sd.SCPDURL},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.ref) == "" {
			return sd, &ParseError{What: "service " + sd.ServiceID + ": missing " + field.name}
		}
		resolved, err := resolveURL(base, field.ref)
		if err != nil {
			return sd, err
		}
		*field.dst = resolved
	}
	return sd, nil
}

func resolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	b, err := url.Parse(base)
	if err != nil {
		return "", &ParseError{What: "base url " + base, Err: err}
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", &ParseError{What: "url " + ref, Err: err}
	}
	return b.ResolveReference(r).String(), nil
}

// CreateService fetches the SCPD of a service and builds it.
func (f *Factory) CreateService(ctx context.Context, desc ServiceDescription) (*Service, error) {
	body, err := f.fetch(ctx, desc.SCPDURL)
	if err != nil {
		return nil, err
	}
	scpd, err := ParseSCPD(body)
	if err != nil {
		return nil, err
	}
	return f.BuildService(desc, scpd)
}

// BuildService builds state variables first, then the actions bound to them.
func (f *Factory) BuildService(desc ServiceDescription, scpd *SCPDXML) (*Service, error) {
	stateVariables := make(map[string]*StateVariable, len(scpd.StateVariables))
	for _, node := range scpd.StateVariables {
		sv, err := f.CreateStateVariable(node)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", desc.ServiceID, err)
		}
		stateVariables[sv.Name()] = sv
	}

	actions := make(map[string]*Action, len(scpd.Actions))
	for _, node := range scpd.Actions {
		action, err := f.CreateAction(node, stateVariables)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", desc.ServiceID, err)
		}
		actions[action.Name()] = action
	}

	return NewService(desc, stateVariables, actions, f.requester, f.controlTimeout, f.logger), nil
}

// CreateStateVariable builds a state variable and its validation rules.
func (f *Factory) CreateStateVariable(node SCPDStateVariable) (*StateVariable, error) {
	name := strings.TrimSpace(node.Name)
	if name == "" {
		return nil, &ParseError{What: "stateVariable: missing name"}
	}
	upnpType := strings.TrimSpace(node.DataType)
	if upnpType == "" {
		return nil, &ParseError{What: "stateVariable " + name + ": missing dataType"}
	}

	dataType, ok := LookupDataType(upnpType)
	if !ok {
		return nil, &UnsupportedTypeError{StateVariable: name, DataType: upnpType}
	}

	info := TypeInfo{
		DataType: dataType,
		UPnPType: upnpType,
	}
	if node.DefaultValue != nil {
		info.Default = *node.DefaultValue
		info.HasDefault = true
	}
	for _, v := range node.AllowedValues {
		info.AllowedValues = append(info.AllowedValues, strings.TrimSpace(v))
	}
	if node.Range != nil {
		r, err := parseRange(name, node.Range)
		if err != nil {
			return nil, err
		}
		info.Range = r
	}

	return NewStateVariable(name, parseSendEvents(node.SendEvents), info)
}

func parseSendEvents(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "no", "0", "false":
		return false
	}
	return true
}

func parseRange(name string, node *SCPDValueRange) (*ValueRange, error) {
	lo, err := strconv.Atoi(strings.TrimSpace(node.Minimum))
	if err != nil {
		return nil, &ParseError{What: "allowedValueRange minimum of " + name, Err: err}
	}
	hi, err := strconv.Atoi(strings.TrimSpace(node.Maximum))
	if err != nil {
		return nil, &ParseError{What: "allowedValueRange maximum of " + name, Err: err}
	}
	r := &ValueRange{Min: lo, Max: hi}
	if step := strings.TrimSpace(node.Step); step != "" {
		if r.Step, err = strconv.Atoi(step); err != nil {
			return nil, &ParseError{What: "allowedValueRange step of " + name, Err: err}
		}
	}
	return r, nil
}

// CreateAction builds an action, binding each argument to a state variable.
func (f *Factory) CreateAction(node SCPDAction, stateVariables map[string]*StateVariable) (*Action, error) {
	name := strings.TrimSpace(node.Name)
	if name == "" {
		return nil, &ParseError{What: "action: missing name"}
	}

	args := make([]*Argument, 0, len(node.Arguments))
	for _, a := range node.Arguments {
		argName := strings.TrimSpace(a.Name)
		direction := strings.ToLower(strings.TrimSpace(a.Direction))
		if direction != directionIn && direction != directionOut {
			return nil, &ParseError{What: fmt.Sprintf("action %s argument %s: bad direction %q", name, argName, a.Direction)}
		}
		related := strings.TrimSpace(a.RelatedStateVariable)
		sv, ok := stateVariables[related]
		if !ok {
			return nil, &ParseError{What: fmt.Sprintf("action %s argument %s: unknown relatedStateVariable %q", name, argName, related)}
		}
		args = append(args, &Argument{Name: argName, Direction: direction, StateVariable: sv})
	}

	return NewAction(name, args), nil
}

// fetch retrieves a description document with the description timeout.
func (f *Factory) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.descriptionTimeout)
	defer cancel()

	resp, err := f.requester.Do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
