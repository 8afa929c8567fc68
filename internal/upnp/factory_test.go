package upnp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFactory_CreateDevice(t *testing.T) {
	device := newTestDevice(t, newFakeRequester(t))

	require.Equal(t, testDeviceURL, device.URL())
	require.Equal(t, "Living Room Renderer", device.FriendlyName())
	require.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", device.DeviceType())
	require.Equal(t, "uuid:5d0f3a4c-7b1e-4e37-a0a4-000000000001", device.UDN())

	services := device.Services()
	require.Len(t, services, 2)
	require.Equal(t, ServiceTypeRenderingControl, services[0].ServiceType())
	require.Equal(t, ServiceTypeAVTransport, services[1].ServiceType())

	require.Same(t, services[1], device.Service("avt"))
	require.Same(t, services[0], device.ServiceByID("urn:upnp-org:serviceId:RenderingControl"))
	require.Nil(t, device.Service(ServiceTypeConnectionMgr))

	rc := device.Service(ServiceTypeRenderingControl)
	require.Len(t, rc.Actions(), 4)
	require.Len(t, rc.StateVariables(), 5)
	require.True(t, rc.StateVariable("LastChange").SendEvents())
	require.False(t, rc.StateVariable("Volume").SendEvents())
	require.Equal(t, "ui2", rc.StateVariable("Volume").UPnPType())
	require.Equal(t, DataTypeInteger, rc.StateVariable("Volume").DataType())
}

func TestFactory_CreateDeviceOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/base/RenderingControl_1.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "RenderingControl_1.xml"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// URLBase in the fixture points at localhost:1234; rewrite it to the test server.
	embedded := strings.ReplaceAll(string(readFixture(t, "dmr_embedded.xml")), "http://localhost:1234", server.URL)
	mux.HandleFunc("/base/rewritten.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(embedded))
	})

	factory := NewFactory(NewHTTPRequester(2*time.Second), WithLogger(quietLogger()))
	device, err := factory.CreateDevice(context.Background(), server.URL+"/base/rewritten.xml")
	require.NoError(t, err)

	require.Equal(t, "Kitchen", device.FriendlyName())
	services := device.Services()
	require.Len(t, services, 1)
	require.Equal(t, server.URL+"/base/control/rc", services[0].ControlURL())
	require.Equal(t, server.URL+"/base/event/rc", services[0].EventSubURL())
	require.Equal(t, server.URL+"/base/RenderingControl_1.xml", services[0].SCPDURL())
}

func TestFactory_FetchErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		r := newFakeRequester(t)
		r.fail(http.MethodGet, testDeviceURL, errors.New("connection refused"))
		_, err := NewFactory(r, WithLogger(quietLogger())).CreateDevice(context.Background(), testDeviceURL)
		var ferr *FetchError
		require.True(t, errors.As(err, &ferr))
		require.Equal(t, testDeviceURL, ferr.URL)
		require.False(t, ferr.Timeout())
	})

	t.Run("timeout", func(t *testing.T) {
		r := newFakeRequester(t)
		r.fail(http.MethodGet, testBaseURL+"/AVTransport_1.xml", context.DeadlineExceeded)
		_, err := NewFactory(r, WithLogger(quietLogger())).CreateDevice(context.Background(), testDeviceURL)
		var ferr *FetchError
		require.True(t, errors.As(err, &ferr))
		require.True(t, ferr.Timeout())
	})

	t.Run("status", func(t *testing.T) {
		r := newFakeRequester(t)
		r.on(http.MethodGet, testDeviceURL, http.StatusNotFound, nil, nil)
		_, err := NewFactory(r, WithLogger(quietLogger())).CreateDevice(context.Background(), testDeviceURL)
		var ferr *FetchError
		require.True(t, errors.As(err, &ferr))
		require.Equal(t, http.StatusNotFound, ferr.StatusCode)
	})
}

func TestFactory_ParseErrors(t *testing.T) {
	cases := map[string]string{
		"wrong namespace":  `<root xmlns="urn:example:other"><device><friendlyName>x</friendlyName></device></root>`,
		"no friendly name": `<root xmlns="urn:schemas-upnp-org:device-1-0"><device></device></root>`,
		"not xml":          `<<<`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			r := newFakeRequester(t)
			r.on(http.MethodGet, testDeviceURL, http.StatusOK, nil, []byte(body))
			_, err := NewFactory(r, WithLogger(quietLogger())).CreateDevice(context.Background(), testDeviceURL)
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
		})
	}
}

func TestFactory_MissingServiceURLs(t *testing.T) {
	nodes := map[string]string{
		"controlURL":  "<controlURL>/upnp/control/RenderingControl1</controlURL>",
		"eventSubURL": "<eventSubURL>/upnp/event/RenderingControl1</eventSubURL>",
		"SCPDURL":     "<SCPDURL>/RenderingControl_1.xml</SCPDURL>",
	}
	for name, node := range nodes {
		t.Run(name, func(t *testing.T) {
			desc := string(readFixture(t, "dmr.xml"))
			require.Contains(t, desc, node)
			desc = strings.Replace(desc, node, "", 1)

			r := newFakeRequester(t)
			r.on(http.MethodGet, testDeviceURL, http.StatusOK, nil, []byte(desc))
			_, err := NewFactory(r, WithLogger(quietLogger())).CreateDevice(context.Background(), testDeviceURL)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			require.Contains(t, perr.What, "missing "+name)
		})
	}
}

func TestFactory_CreateStateVariable(t *testing.T) {
	factory := NewFactory(newFakeRequester(t), WithLogger(quietLogger()))
	def := "1"

	sv, err := factory.CreateStateVariable(SCPDStateVariable{
		Name:         "Loudness",
		DataType:     "boolean",
		DefaultValue: &def,
	})
	require.NoError(t, err)
	require.True(t, sv.SendEvents())
	require.Equal(t, true, sv.Default())

	_, err = factory.CreateStateVariable(SCPDStateVariable{Name: "Level", DataType: "r8"})
	var uerr *UnsupportedTypeError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, "r8", uerr.DataType)

	_, err = factory.CreateStateVariable(SCPDStateVariable{Name: "Level"})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))

	_, err = factory.CreateStateVariable(SCPDStateVariable{
		Name:     "Level",
		DataType: "i2",
		Range:    &SCPDValueRange{Minimum: "low", Maximum: "10"},
	})
	require.True(t, errors.As(err, &perr))
}

func TestFactory_CreateActionUnresolvedVariable(t *testing.T) {
	factory := NewFactory(newFakeRequester(t), WithLogger(quietLogger()))

	_, err := factory.CreateAction(SCPDAction{
		Name: "SetBass",
		Arguments: []SCPDArgument{
			{Name: "DesiredBass", Direction: "in", RelatedStateVariable: "Bass"},
		},
	}, map[string]*StateVariable{})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.Contains(t, perr.Error(), "Bass")
}

func TestFactory_BuildServiceFailsOnUnsupportedType(t *testing.T) {
	factory := NewFactory(newFakeRequester(t), WithLogger(quietLogger()))
	scpd, err := ParseSCPD([]byte(`<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <serviceStateTable>
    <stateVariable sendEvents="no"><name>Brightness</name><dataType>float</dataType></stateVariable>
  </serviceStateTable>
</scpd>`))
	require.NoError(t, err)

	_, err = factory.BuildService(ServiceDescription{ServiceID: "urn:upnp-org:serviceId:Dimming"}, scpd)
	var uerr *UnsupportedTypeError
	require.True(t, errors.As(err, &uerr))
}
