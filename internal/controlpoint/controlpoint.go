package controlpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/upnp-control-go/internal/notify"
	"github.com/strefethen/upnp-control-go/internal/sink"
	"github.com/strefethen/upnp-control-go/internal/upnp"
)

var (
	// ErrUnknownDevice is returned for a URL or UDN that was never added.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNotConnected is returned when the device has no live description.
	ErrNotConnected = errors.New("device not connected")
	// ErrServiceNotAvailable is returned when the device lacks the requested service.
	ErrServiceNotAvailable = errors.New("service not available")
	// ErrActionNotAvailable is returned when the service lacks the requested action.
	ErrActionNotAvailable = errors.New("action not available")
	// ErrStateVariableNotAvailable is returned when the service lacks the requested state variable.
	ErrStateVariableNotAvailable = errors.New("state variable not available")
)

// Status is the connection state of a managed device.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConnected   Status = "CONNECTED"
	StatusUnavailable Status = "UNAVAILABLE"
)

const (
	transportStatePlaying = "PLAYING"
	transportStatePaused  = "PAUSED_PLAYBACK"
	defaultPollTimeout    = 20 * time.Second
)

// DeviceInfo is a snapshot of a managed device.
type DeviceInfo struct {
	URL          string    `json:"url"`
	UDN          string    `json:"udn,omitempty"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	DeviceType   string    `json:"device_type,omitempty"`
	Status       Status    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	ConnectedAt  time.Time `json:"connected_at,omitempty"`
}

type managed struct {
	url         string
	device      *upnp.Device
	status      Status
	lastError   string
	connectedAt time.Time
}

// Options configures a ControlPoint.
type Options struct {
	Factory    *upnp.Factory
	Dispatcher *notify.Dispatcher
	// Sink receives every change batch. Optional.
	Sink sink.Sink
	// Repository persists managed URLs and their status. Optional.
	Repository  *DevicesRepository
	PollTimeout time.Duration
	Logger      *log.Logger
}

// ControlPoint owns a set of devices: it connects them, keeps their event
// subscriptions registered with the dispatcher and polls AVTransport state.
type ControlPoint struct {
	factory     *upnp.Factory
	dispatcher  *notify.Dispatcher
	sink        sink.Sink
	repo        *DevicesRepository
	pollTimeout time.Duration
	logger      *log.Logger

	// connectMu serializes connect and teardown so a device is never subscribed twice.
	connectMu sync.Mutex

	mu      sync.RWMutex
	devices map[string]*managed
	order   []string
}

// New creates a control point.
func New(opts Options) *ControlPoint {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = upnp.NewFactory(nil, upnp.WithLogger(logger))
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &ControlPoint{
		factory:     factory,
		dispatcher:  opts.Dispatcher,
		sink:        opts.Sink,
		repo:        opts.Repository,
		pollTimeout: pollTimeout,
		logger:      logger,
		devices:     make(map[string]*managed),
	}
}

// Restore adds every URL stored in the repository.
func (cp *ControlPoint) Restore() error {
	if cp.repo == nil {
		return nil
	}
	records, err := cp.repo.List()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, record := range records {
		cp.add(record.URL)
	}
	return nil
}

// Add registers a device description URL. Adding a known URL is a no-op.
func (cp *ControlPoint) Add(url string) error {
	if cp.repo != nil {
		if err := cp.repo.Add(url); err != nil {
			return fmt.Errorf("persist device: %w", err)
		}
	}
	cp.add(url)
	return nil
}

func (cp *ControlPoint) add(url string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.devices[url]; ok {
		return
	}
	cp.devices[url] = &managed{url: url, status: StatusPending}
	cp.order = append(cp.order, url)
}

// Remove tears down and forgets a device.
func (cp *ControlPoint) Remove(ctx context.Context, key string) error {
	m := cp.find(key)
	if m == nil {
		return ErrUnknownDevice
	}

	cp.connectMu.Lock()
	cp.teardown(ctx, m, StatusPending, "")
	cp.connectMu.Unlock()

	cp.mu.Lock()
	delete(cp.devices, m.url)
	for i, url := range cp.order {
		if url == m.url {
			cp.order = append(cp.order[:i], cp.order[i+1:]...)
			break
		}
	}
	cp.mu.Unlock()

	if cp.repo != nil {
		return cp.repo.Remove(m.url)
	}
	return nil
}

// Connect builds the device, installs the change callback, subscribes every
// service and registers the SIDs with the dispatcher. A service that refuses
// the subscription stays usable for actions.
func (cp *ControlPoint) Connect(ctx context.Context, url string) (*upnp.Device, error) {
	m := cp.find(url)
	if m == nil {
		return nil, ErrUnknownDevice
	}

	cp.connectMu.Lock()
	defer cp.connectMu.Unlock()

	if device := cp.deviceOf(m); device != nil {
		return device, nil
	}

	device, err := cp.factory.CreateDevice(ctx, m.url)
	if err != nil {
		cp.setStatus(m, nil, StatusUnavailable, err.Error())
		return nil, err
	}

	for _, service := range device.Services() {
		service.SetOnStateVariableChange(cp.changeHandler(device))
		if cp.dispatcher == nil {
			continue
		}

		sid, err := service.Subscribe(ctx, cp.dispatcher.CallbackURL())
		if err != nil {
			cp.logger.Printf("CP: %s: subscribe %s failed: %v", device, service.ServiceID(), err)
			continue
		}
		if sid == "" {
			continue
		}
		if err := cp.dispatcher.Register(sid, service); err != nil {
			cp.logger.Printf("CP: %s: register %s failed: %v", device, sid, err)
			service.Unsubscribe(ctx, true)
		}
	}

	cp.setStatus(m, device, StatusConnected, "")
	cp.logger.Printf("CP: Connected %s (%s)", device.FriendlyName(), device.UDN())
	return device, nil
}

// ConnectAll connects every device that is not connected yet.
func (cp *ControlPoint) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, m := range cp.snapshot() {
		if cp.deviceOf(m) != nil {
			continue
		}
		if _, err := cp.Connect(ctx, m.url); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.url, err))
		}
	}
	return errors.Join(errs...)
}

// Disconnect tears down a device's subscriptions but keeps it managed.
func (cp *ControlPoint) Disconnect(ctx context.Context, key string) error {
	m := cp.find(key)
	if m == nil {
		return ErrUnknownDevice
	}
	cp.connectMu.Lock()
	cp.teardown(ctx, m, StatusPending, "")
	cp.connectMu.Unlock()
	return nil
}

// Close tears down every device.
func (cp *ControlPoint) Close(ctx context.Context) {
	cp.connectMu.Lock()
	defer cp.connectMu.Unlock()
	for _, m := range cp.snapshot() {
		cp.teardown(ctx, m, StatusPending, "")
	}
}

// teardown unregisters and force-unsubscribes every service. Caller holds connectMu.
func (cp *ControlPoint) teardown(ctx context.Context, m *managed, status Status, reason string) {
	device := cp.deviceOf(m)
	if device != nil {
		for _, service := range device.Services() {
			if sid := service.SubscriptionSID(); sid != "" && cp.dispatcher != nil {
				cp.dispatcher.Unregister(sid)
			}
			if err := service.Unsubscribe(ctx, true); err != nil {
				cp.logger.Printf("CP: %s: unsubscribe %s: %v", device, service.ServiceID(), err)
			}
			service.SetOnStateVariableChange(nil)
		}
	}
	cp.setStatus(m, nil, status, reason)
}

func (cp *ControlPoint) changeHandler(device *upnp.Device) upnp.ChangeFunc {
	return func(service *upnp.Service, changed []*upnp.StateVariable) {
		if cp.sink == nil {
			return
		}
		if err := cp.sink.Publish(context.Background(), sink.ChangesFrom(device, service, changed)); err != nil {
			cp.logger.Printf("CP: %s: publish changes: %v", device, err)
		}
	}
}

// Poll refreshes AVTransport state on every connected device and tries to
// reconnect the others. A transport failure tears the device down so the
// next poll reconnects it.
func (cp *ControlPoint) Poll(ctx context.Context) {
	for _, m := range cp.snapshot() {
		device := cp.deviceOf(m)
		if device == nil {
			if _, err := cp.Connect(ctx, m.url); err != nil {
				cp.logger.Printf("CP: %s not reachable: %v", m.url, err)
			}
			continue
		}

		if err := cp.pollDevice(ctx, device); err != nil {
			var callErr *upnp.ActionCallError
			if errors.As(err, &callErr) {
				cp.logger.Printf("CP: %s: error on update: %v", device, err)
				cp.connectMu.Lock()
				if cp.deviceOf(m) == device {
					cp.teardown(ctx, m, StatusUnavailable, err.Error())
				}
				cp.connectMu.Unlock()
				continue
			}
			cp.logger.Printf("CP: %s: poll: %v", device, err)
		}
	}
}

func (cp *ControlPoint) pollDevice(ctx context.Context, device *upnp.Device) error {
	avt := device.Service("AVT")
	if avt == nil {
		return nil
	}

	state, err := cp.pollTransportInfo(ctx, avt)
	if err != nil {
		return err
	}
	if state == transportStatePlaying || state == transportStatePaused {
		return cp.pollPositionInfo(ctx, avt)
	}
	return nil
}

// pollTransportInfo applies CurrentTransportState to TransportState and reports a change only when it differs.
func (cp *ControlPoint) pollTransportInfo(ctx context.Context, avt *upnp.Service) (string, error) {
	if avt.Action("GetTransportInfo") == nil {
		return "", nil
	}
	out, err := avt.CallActionNamed(ctx, "GetTransportInfo", map[string]any{"InstanceID": 0})
	if err != nil {
		return "", err
	}

	state, _ := out["CurrentTransportState"].(string)
	sv := avt.StateVariable("TransportState")
	if sv == nil {
		return state, nil
	}

	old := sv.WireValue()
	if err := sv.SetValue(state); err != nil {
		cp.logger.Printf("CP: %s: invalid transport state %q: %v", avt, state, err)
		return state, nil
	}
	if old != sv.WireValue() {
		avt.NotifyChanged([]*upnp.StateVariable{sv})
	}
	return state, nil
}

func (cp *ControlPoint) pollPositionInfo(ctx context.Context, avt *upnp.Service) error {
	if avt.Action("GetPositionInfo") == nil {
		return nil
	}
	out, err := avt.CallActionNamed(ctx, "GetPositionInfo", map[string]any{"InstanceID": 0})
	if err != nil {
		return err
	}

	var changed []*upnp.StateVariable
	for arg, variable := range map[string]string{
		"TrackDuration": "CurrentTrackDuration",
		"RelTime":       "RelativeTimePosition",
	} {
		sv := avt.StateVariable(variable)
		value, ok := out[arg]
		if sv == nil || !ok {
			continue
		}
		if err := sv.SetValue(value); err != nil {
			cp.logger.Printf("CP: %s: invalid %s %v: %v", avt, variable, value, err)
			continue
		}
		changed = append(changed, sv)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Name() < changed[j].Name() })
	avt.NotifyChanged(changed)
	return nil
}

// Schedule registers Poll on c.
func (cp *ControlPoint) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cp.pollTimeout)
		defer cancel()
		cp.Poll(ctx)
	})
	return err
}

// LookupAction resolves a service (type, ID or alias such as RC/AVT) and action
// on a connected device.
func (cp *ControlPoint) LookupAction(key, service, action string) (*upnp.Service, *upnp.Action, error) {
	svc, err := cp.lookupService(key, service)
	if err != nil {
		return nil, nil, err
	}
	a := svc.Action(action)
	if a == nil {
		return nil, nil, fmt.Errorf("%w: %s on %s", ErrActionNotAvailable, action, svc.ServiceID())
	}
	return svc, a, nil
}

// LookupStateVariable resolves a service and one of its state variables on a
// connected device.
func (cp *ControlPoint) LookupStateVariable(key, service, name string) (*upnp.Service, *upnp.StateVariable, error) {
	svc, err := cp.lookupService(key, service)
	if err != nil {
		return nil, nil, err
	}
	sv := svc.StateVariable(name)
	if sv == nil {
		return nil, nil, fmt.Errorf("%w: %s on %s", ErrStateVariableNotAvailable, name, svc.ServiceID())
	}
	return svc, sv, nil
}

func (cp *ControlPoint) lookupService(key, service string) (*upnp.Service, error) {
	m := cp.find(key)
	if m == nil {
		return nil, ErrUnknownDevice
	}
	device := cp.deviceOf(m)
	if device == nil {
		return nil, ErrNotConnected
	}

	svc := device.Service(service)
	if svc == nil {
		svc = device.ServiceByID(service)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotAvailable, service)
	}
	return svc, nil
}

// CallAction looks up and invokes an action.
func (cp *ControlPoint) CallAction(ctx context.Context, key, service, action string, args map[string]any) (map[string]any, error) {
	svc, a, err := cp.LookupAction(key, service, action)
	if err != nil {
		return nil, err
	}
	return svc.CallAction(ctx, a, args)
}

// Device returns the live device for a URL or UDN.
func (cp *ControlPoint) Device(key string) (*upnp.Device, error) {
	m := cp.find(key)
	if m == nil {
		return nil, ErrUnknownDevice
	}
	device := cp.deviceOf(m)
	if device == nil {
		return nil, ErrNotConnected
	}
	return device, nil
}

// Devices returns a snapshot of every managed device in insertion order.
func (cp *ControlPoint) Devices() []DeviceInfo {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(cp.order))
	for _, url := range cp.order {
		out = append(out, infoOf(cp.devices[url]))
	}
	return out
}

// Info returns the snapshot of one device.
func (cp *ControlPoint) Info(key string) (DeviceInfo, error) {
	m := cp.find(key)
	if m == nil {
		return DeviceInfo{}, ErrUnknownDevice
	}
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return infoOf(m), nil
}

func infoOf(m *managed) DeviceInfo {
	info := DeviceInfo{
		URL:         m.url,
		Status:      m.status,
		LastError:   m.lastError,
		ConnectedAt: m.connectedAt,
	}
	if m.device != nil {
		info.UDN = m.device.UDN()
		info.FriendlyName = m.device.FriendlyName()
		info.DeviceType = m.device.DeviceType()
	}
	return info
}

// find matches a description URL or a connected device's UDN.
func (cp *ControlPoint) find(key string) *managed {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	if m, ok := cp.devices[key]; ok {
		return m
	}
	for _, m := range cp.devices {
		if m.device != nil && m.device.UDN() == key {
			return m
		}
	}
	return nil
}

func (cp *ControlPoint) snapshot() []*managed {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	out := make([]*managed, 0, len(cp.order))
	for _, url := range cp.order {
		out = append(out, cp.devices[url])
	}
	return out
}

func (cp *ControlPoint) deviceOf(m *managed) *upnp.Device {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return m.device
}

func (cp *ControlPoint) setStatus(m *managed, device *upnp.Device, status Status, reason string) {
	cp.mu.Lock()
	m.device = device
	m.status = status
	m.lastError = reason
	if device != nil {
		m.connectedAt = time.Now().UTC()
	}
	cp.mu.Unlock()

	if cp.repo == nil {
		return
	}
	var err error
	switch {
	case device != nil:
		err = cp.repo.MarkConnected(m.url, device.UDN(), device.FriendlyName(), device.DeviceType())
	case status == StatusUnavailable:
		err = cp.repo.MarkUnavailable(m.url, reason)
	}
	if err != nil {
		cp.logger.Printf("CP: persist status of %s: %v", m.url, err)
	}
}
