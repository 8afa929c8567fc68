package upnp

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultControlTimeout bounds SOAP calls and GENA requests.
const DefaultControlTimeout = 5 * time.Second

// ServiceDescription is the serviceList entry of a device description.
// URLs are absolute once the Factory has resolved them.
type ServiceDescription struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventSubURL string
	SCPDURL     string
}

// ChangeFunc receives every batch of state variables changed by one NOTIFY.
type ChangeFunc func(service *Service, changed []*StateVariable)

// Service aggregates the state variables and actions of one UPnP service and
// owns its SOAP invocation and GENA subscription lifecycle.
type Service struct {
	desc           ServiceDescription
	stateVariables map[string]*StateVariable
	actions        map[string]*Action
	requester      Requester
	timeout        time.Duration
	logger         *log.Logger

	mu       sync.RWMutex
	sid      string
	onChange ChangeFunc
}

// NewService wires a service to the requester used for control and eventing.
func NewService(desc ServiceDescription, stateVariables map[string]*StateVariable, actions map[string]*Action, requester Requester, timeout time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}
	return &Service{
		desc:           desc,
		stateVariables: stateVariables,
		actions:        actions,
		requester:      requester,
		timeout:        timeout,
		logger:         logger,
	}
}

func (s *Service) ServiceType() string { return s.desc.ServiceType }
func (s *Service) ServiceID() string   { return s.desc.ServiceID }
func (s *Service) ControlURL() string  { return s.desc.ControlURL }
func (s *Service) EventSubURL() string { return s.desc.EventSubURL }
func (s *Service) SCPDURL() string     { return s.desc.SCPDURL }

// StateVariable returns the named state variable or nil.
func (s *Service) StateVariable(name string) *StateVariable {
	return s.stateVariables[name]
}

// StateVariables returns all state variables sorted by name.
func (s *Service) StateVariables() []*StateVariable {
	out := make([]*StateVariable, 0, len(s.stateVariables))
	for _, sv := range s.stateVariables {
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Action returns the named action or nil.
func (s *Service) Action(name string) *Action {
	return s.actions[name]
}

// Actions returns all actions sorted by name.
func (s *Service) Actions() []*Action {
	out := make([]*Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// SetOnStateVariableChange installs the change callback used by OnNotify.
func (s *Service) SetOnStateVariableChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// NotifyChanged invokes the change callback with a batch of changed variables.
func (s *Service) NotifyChanged(changed []*StateVariable) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil && len(changed) > 0 {
		fn(s, changed)
	}
}

// CallActionNamed resolves an action by name and calls it.
func (s *Service) CallActionNamed(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	action := s.Action(name)
	if action == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownAction, name, s.desc.ServiceID)
	}
	return s.CallAction(ctx, action, args)
}

// CallAction performs a SOAP call and returns the out-arguments as native values.
// State variables are not updated; callers apply results when they need to.
func (s *Service) CallAction(ctx context.Context, action *Action, args map[string]any) (map[string]any, error) {
	header, body, err := action.BuildRequest(s.desc.ControlURL, s.desc.ServiceType, args)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.requester.Do(ctx, http.MethodPost, s.desc.ControlURL, header, body)
	if err != nil {
		return nil, &ActionCallError{Action: action.name, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		if fault, ok := parseFault(resp.Body); ok {
			fault.Action = action.name
			s.logger.Printf("UPNP: %s.%s fault: %s", s.desc.ServiceID, action.name, resp.Body)
			return nil, fault
		}
		return nil, &ActionCallError{Action: action.name, StatusCode: resp.StatusCode}
	}

	return action.ParseResponse(s.desc.ServiceType, resp.Header, resp.Body)
}

// SubscriptionSID returns the active subscription ID, empty when unsubscribed.
func (s *Service) SubscriptionSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sid
}

// Subscribe issues a GENA SUBSCRIBE with an infinite timeout.
// A non-200 answer or a missing SID is logged and yields an empty SID without error,
// so devices without eventing do not fail the caller.
func (s *Service) Subscribe(ctx context.Context, callbackURL string) (string, error) {
	if s.SubscriptionSID() != "" {
		return "", ErrAlreadySubscribed
	}

	header := http.Header{}
	header.Set("NT", "upnp:event")
	header.Set("TIMEOUT", "Second-infinite")
	header.Set("Host", hostOf(s.desc.EventSubURL))
	header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.requester.Do(ctx, "SUBSCRIBE", s.desc.EventSubURL, header, nil)
	if err != nil {
		return "", &EventError{Method: "SUBSCRIBE", URL: s.desc.EventSubURL, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Printf("UPNP: Subscribe %s: did not receive 200, but %d", s.desc.ServiceID, resp.StatusCode)
		return "", nil
	}

	sid := strings.TrimSpace(resp.Header.Get("SID"))
	if sid == "" {
		s.logger.Printf("UPNP: Subscribe %s: no SID in response", s.desc.ServiceID)
		return "", nil
	}

	s.mu.Lock()
	if s.sid != "" {
		s.mu.Unlock()
		return "", ErrAlreadySubscribed
	}
	s.sid = sid
	s.mu.Unlock()

	s.logger.Printf("UPNP: Subscribed to %s (SID: %s)", s.desc.ServiceID, sid)
	return sid, nil
}

// Renew refreshes the active subscription. HTTP 412 means the device dropped it;
// the local SID is cleared and ErrSubscriptionNotFound returned.
func (s *Service) Renew(ctx context.Context) error {
	sid := s.SubscriptionSID()
	if sid == "" {
		return ErrNotSubscribed
	}

	header := http.Header{}
	header.Set("SID", sid)
	header.Set("TIMEOUT", "Second-infinite")
	header.Set("Host", hostOf(s.desc.EventSubURL))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.requester.Do(ctx, "SUBSCRIBE", s.desc.EventSubURL, header, nil)
	if err != nil {
		return &EventError{Method: "SUBSCRIBE", URL: s.desc.EventSubURL, Err: err}
	}

	if resp.StatusCode == http.StatusPreconditionFailed {
		s.clearSID(sid)
		return ErrSubscriptionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &EventError{Method: "SUBSCRIBE", URL: s.desc.EventSubURL, StatusCode: resp.StatusCode}
	}
	return nil
}

// Unsubscribe issues a GENA UNSUBSCRIBE. With force the local SID is cleared
// before the request and transport errors are swallowed.
func (s *Service) Unsubscribe(ctx context.Context, force bool) error {
	s.mu.Lock()
	sid := s.sid
	if !force && sid == "" {
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	if force {
		s.sid = ""
	}
	s.mu.Unlock()

	if sid == "" {
		return nil
	}

	header := http.Header{}
	header.Set("SID", sid)
	header.Set("Host", hostOf(s.desc.EventSubURL))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.requester.Do(ctx, "UNSUBSCRIBE", s.desc.EventSubURL, header, nil)
	if err != nil {
		if force {
			return nil
		}
		return &EventError{Method: "UNSUBSCRIBE", URL: s.desc.EventSubURL, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Printf("UPNP: Unsubscribe %s: did not receive 200, but %d", s.desc.ServiceID, resp.StatusCode)
		return nil
	}

	s.clearSID(sid)
	return nil
}

func (s *Service) clearSID(sid string) {
	s.mu.Lock()
	if s.sid == sid {
		s.sid = ""
	}
	s.mu.Unlock()
}

// OnNotify applies a NOTIFY body to the state variables. Notifications whose SID
// does not match the active subscription are ignored. Invalid values are logged
// and skipped; the change callback fires once with every variable that changed.
func (s *Service) OnNotify(header http.Header, body []byte) {
	sid := strings.TrimSpace(header.Get("SID"))
	if sid == "" || sid != s.SubscriptionSID() {
		return
	}

	properties, err := parsePropertySet(body)
	if err != nil {
		s.logger.Printf("UPNP: Failed to parse event body for %s: %v", s.desc.ServiceID, err)
		return
	}

	var changed []*StateVariable
	for _, prop := range properties {
		sv := s.StateVariable(prop.name)
		if sv == nil {
			s.logger.Printf("UPNP: %s: event for unknown state variable %s", s.desc.ServiceID, prop.name)
			continue
		}
		if err := sv.SetWireValue(prop.value); err != nil {
			s.logger.Printf("UPNP: Got invalid value for %s: %v", sv, err)
			continue
		}
		changed = append(changed, sv)
	}

	s.NotifyChanged(changed)
}

func (s *Service) String() string {
	return "Service(" + s.desc.ServiceID + ")"
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
