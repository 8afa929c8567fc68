package upnp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAction_Arguments(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("GetVolume")
	require.NotNil(t, action)
	require.Equal(t, "GetVolume", action.Name())

	in := action.InArguments()
	require.Len(t, in, 2)
	require.Equal(t, "InstanceID", in[0].Name)
	require.Equal(t, "Channel", in[1].Name)

	out := action.OutArguments()
	require.Len(t, out, 1)
	require.Equal(t, "CurrentVolume", out[0].Name)
	require.Same(t, svc.StateVariable("Volume"), out[0].StateVariable)

	require.NotNil(t, action.Argument("Channel", ""))
	require.Nil(t, action.Argument("Channel", "out"))
}

func TestAction_BuildRequest(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("SetVolume")

	header, body, err := action.BuildRequest(svc.ControlURL(), svc.ServiceType(), map[string]any{
		"InstanceID":    0,
		"Channel":       "Master",
		"DesiredVolume": 10,
	})
	require.NoError(t, err)

	require.Equal(t, `"urn:schemas-upnp-org:service:RenderingControl:1#SetVolume"`, header.Get("SOAPAction"))
	require.Equal(t, "localhost:1234", header.Get("Host"))
	require.Equal(t, "text/xml", header.Get("Content-Type"))
	require.Equal(t, strconv.Itoa(len(body)), header.Get("Content-Length"))

	var envelope struct {
		Body struct {
			SetVolume struct {
				InstanceID    string `xml:"InstanceID"`
				Channel       string `xml:"Channel"`
				DesiredVolume string `xml:"DesiredVolume"`
			} `xml:"urn:schemas-upnp-org:service:RenderingControl:1 SetVolume"`
		} `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	}
	require.NoError(t, xml.Unmarshal(body, &envelope))
	require.Equal(t, "0", envelope.Body.SetVolume.InstanceID)
	require.Equal(t, "Master", envelope.Body.SetVolume.Channel)
	require.Equal(t, "10", envelope.Body.SetVolume.DesiredVolume)

	// In-arguments keep declared order.
	require.Less(t, bytes.Index(body, []byte("<InstanceID>")), bytes.Index(body, []byte("<Channel>")))
	require.Less(t, bytes.Index(body, []byte("<Channel>")), bytes.Index(body, []byte("<DesiredVolume>")))
}

func TestAction_BuildRequestValidation(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("SetVolume")

	_, _, err := action.BuildRequest(svc.ControlURL(), svc.ServiceType(), map[string]any{
		"InstanceID":    "0",
		"Channel":       "Master",
		"DesiredVolume": 10,
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "A_ARG_TYPE_InstanceID", verr.StateVariable)

	_, _, err = action.BuildRequest(svc.ControlURL(), svc.ServiceType(), map[string]any{
		"InstanceID": 0,
		"Channel":    "Master",
	})
	var missing *MissingArgumentError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "DesiredVolume", missing.Argument)

	_, _, err = action.BuildRequest(svc.ControlURL(), svc.ServiceType(), map[string]any{
		"InstanceID":    0,
		"Channel":       "Master",
		"DesiredVolume": 150,
	})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "range", verr.Rule)
}

func TestAction_BuildRequestEscapesValues(t *testing.T) {
	device := newTestDevice(t, newFakeRequester(t))
	svc := device.Service("AVT")
	action := svc.Action("SetAVTransportURI")

	metadata := `<DIDL-Lite><item id="1">Tom & Jerry</item></DIDL-Lite>`
	_, body, err := action.BuildRequest(svc.ControlURL(), svc.ServiceType(), map[string]any{
		"InstanceID":         0,
		"CurrentURI":         "http://media.local/a.mp3?x=1&y=2",
		"CurrentURIMetaData": metadata,
	})
	require.NoError(t, err)
	require.NotContains(t, string(body), "<DIDL-Lite>")

	var envelope struct {
		Body struct {
			Call struct {
				CurrentURI         string `xml:"CurrentURI"`
				CurrentURIMetaData string `xml:"CurrentURIMetaData"`
			} `xml:"urn:schemas-upnp-org:service:AVTransport:1 SetAVTransportURI"`
		} `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
	}
	require.NoError(t, xml.Unmarshal(body, &envelope))
	require.Equal(t, "http://media.local/a.mp3?x=1&y=2", envelope.Body.Call.CurrentURI)
	require.Equal(t, metadata, envelope.Body.Call.CurrentURIMetaData)
}

func TestAction_ParseResponse(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("GetVolume")

	result, err := action.ParseResponse(svc.ServiceType(), nil, readFixture(t, "action_GetVolume.xml"))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"CurrentVolume": 3}, result)
}

func TestAction_ParseResponseFault(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("GetVolume")
	body := readFixture(t, "action_GetVolumeError.xml")

	_, err := action.ParseResponse(svc.ServiceType(), nil, body)
	var fault *ActionFaultError
	require.True(t, errors.As(err, &fault))
	require.Equal(t, "GetVolume", fault.Action)
	require.Equal(t, "402", fault.Code)
	require.Equal(t, "Invalid Args", fault.Description)
	require.Equal(t, body, fault.Body)
}

func TestAction_ParseResponseUndeclaredArgument(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("GetVolume")
	body := []byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">
      <CurrentVolume>3</CurrentVolume>
      <Bass>7</Bass>
    </u:GetVolumeResponse>
  </s:Body>
</s:Envelope>`)

	_, err := action.ParseResponse(svc.ServiceType(), nil, body)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}

func TestAction_ParseResponseMissingElement(t *testing.T) {
	svc := renderingControl(t)
	action := svc.Action("GetVolume")
	body := []byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetMuteResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">
      <CurrentMute>1</CurrentMute>
    </u:GetMuteResponse>
  </s:Body>
</s:Envelope>`)

	_, err := action.ParseResponse(svc.ServiceType(), nil, body)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
}

func TestAction_SOAPRoundTrip(t *testing.T) {
	device := newTestDevice(t, newFakeRequester(t))
	svc := device.Service(ServiceTypeAVTransport)
	action := svc.Action("GetPositionInfo")

	values := map[string]any{
		"Track":         2,
		"TrackDuration": "0:03:21",
		"TrackMetaData": `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"/>`,
		"TrackURI":      "http://media.local/track.flac",
		"RelTime":       "0:01:02",
		"AbsTime":       "NOT_IMPLEMENTED",
		"RelCount":      -1,
		"AbsCount":      2147483647,
	}

	var children bytes.Buffer
	for _, arg := range action.OutArguments() {
		wire, err := arg.StateVariable.CoerceWire(values[arg.Name])
		require.NoError(t, err)
		children.WriteString("<" + arg.Name + ">" + escapeXML(wire) + "</" + arg.Name + ">")
	}
	body := []byte(`<?xml version="1.0"?><s:Envelope xmlns:s="` + soapEnvelopeNS + `"><s:Body>` +
		`<u:GetPositionInfoResponse xmlns:u="` + svc.ServiceType() + `">` + children.String() +
		`</u:GetPositionInfoResponse></s:Body></s:Envelope>`)

	result, err := action.ParseResponse(svc.ServiceType(), nil, body)
	require.NoError(t, err)
	require.Equal(t, values, result)
}
