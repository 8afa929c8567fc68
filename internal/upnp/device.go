package upnp

import "strings"

// Well-known service types used by media renderers.
const (
	ServiceTypeRenderingControl = "urn:schemas-upnp-org:service:RenderingControl:1"
	ServiceTypeAVTransport      = "urn:schemas-upnp-org:service:AVTransport:1"
	ServiceTypeConnectionMgr    = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

// serviceAliases maps short names to service types.
var serviceAliases = map[string]string{
	"RC":  ServiceTypeRenderingControl,
	"AVT": ServiceTypeAVTransport,
	"CM":  ServiceTypeConnectionMgr,
}

// ResolveServiceAlias expands a short alias like "AVT"; other input is returned unchanged.
func ResolveServiceAlias(name string) string {
	if serviceType, ok := serviceAliases[strings.ToUpper(name)]; ok {
		return serviceType
	}
	return name
}

// Device is a UPnP device and the services of its whole device tree.
type Device struct {
	url          string
	friendlyName string
	deviceType   string
	udn          string
	services     []*Service
	byType       map[string]*Service
}

// NewDevice creates a device. The first service of each type wins lookups by type.
func NewDevice(url, friendlyName, deviceType, udn string, services []*Service) *Device {
	d := &Device{
		url:          url,
		friendlyName: friendlyName,
		deviceType:   deviceType,
		udn:          udn,
		services:     services,
		byType:       make(map[string]*Service, len(services)),
	}
	for _, svc := range services {
		if _, exists := d.byType[svc.ServiceType()]; !exists {
			d.byType[svc.ServiceType()] = svc
		}
	}
	return d
}

func (d *Device) URL() string          { return d.url }
func (d *Device) FriendlyName() string { return d.friendlyName }
func (d *Device) DeviceType() string   { return d.deviceType }
func (d *Device) UDN() string          { return d.udn }

// Service returns the service with the given type or alias, or nil.
func (d *Device) Service(serviceType string) *Service {
	return d.byType[ResolveServiceAlias(serviceType)]
}

// ServiceByID returns the service with the given serviceId, or nil.
func (d *Device) ServiceByID(serviceID string) *Service {
	for _, svc := range d.services {
		if svc.ServiceID() == serviceID {
			return svc
		}
	}
	return nil
}

// Services returns the services in document order.
func (d *Device) Services() []*Service {
	out := make([]*Service, len(d.services))
	copy(out, d.services)
	return out
}

func (d *Device) String() string {
	return "Device(" + d.friendlyName + ")"
}
