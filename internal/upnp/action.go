package upnp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	soapEnvelopeNS   = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncodingNS   = "http://schemas.xmlsoap.org/soap/encoding/"
	directionIn      = "in"
	directionOut     = "out"
	contentTypeSOAP  = "text/xml"
	headerSOAPAction = "SOAPAction"
)

// Argument is an action parameter bound to the state variable that types it.
type Argument struct {
	Name          string
	Direction     string
	StateVariable *StateVariable
}

// Action is an immutable description of a callable operation.
// Per-call values are passed to BuildRequest and never stored on the Action.
type Action struct {
	name string
	args []*Argument
}

// NewAction creates an action from its ordered arguments.
func NewAction(name string, args []*Argument) *Action {
	return &Action{name: name, args: args}
}

// Name returns the action name.
func (a *Action) Name() string { return a.name }

// Arguments returns all arguments in declared order.
func (a *Action) Arguments() []*Argument {
	out := make([]*Argument, len(a.args))
	copy(out, a.args)
	return out
}

// InArguments returns the in-arguments in declared order.
func (a *Action) InArguments() []*Argument {
	return a.filter(directionIn)
}

// OutArguments returns the out-arguments in declared order.
func (a *Action) OutArguments() []*Argument {
	return a.filter(directionOut)
}

func (a *Action) filter(direction string) []*Argument {
	var out []*Argument
	for _, arg := range a.args {
		if arg.Direction == direction {
			out = append(out, arg)
		}
	}
	return out
}

// Argument finds an argument by name; an empty direction matches either.
func (a *Action) Argument(name, direction string) *Argument {
	for _, arg := range a.args {
		if arg.Name != name {
			continue
		}
		if direction != "" && arg.Direction != direction {
			continue
		}
		return arg
	}
	return nil
}

// BuildRequest validates in-arguments and renders the SOAP 1.1 request.
func (a *Action) BuildRequest(controlURL, serviceType string, args map[string]any) (http.Header, []byte, error) {
	u, err := url.Parse(controlURL)
	if err != nil {
		return nil, nil, fmt.Errorf("control url %q: %w", controlURL, err)
	}

	var params strings.Builder
	for _, arg := range a.InArguments() {
		value, ok := args[arg.Name]
		if !ok || value == nil {
			return nil, nil, &MissingArgumentError{Action: a.name, Argument: arg.Name}
		}
		wire, err := arg.StateVariable.CoerceWire(value)
		if err != nil {
			return nil, nil, err
		}
		params.WriteString("<")
		params.WriteString(arg.Name)
		params.WriteString(">")
		params.WriteString(escapeXML(wire))
		params.WriteString("</")
		params.WriteString(arg.Name)
		params.WriteString(">")
	}

	body := buildEnvelope(serviceType, a.name, params.String())

	header := http.Header{}
	header.Set(headerSOAPAction, fmt.Sprintf("\"%s#%s\"", serviceType, a.name))
	header.Set("Host", u.Host)
	header.Set("Content-Type", contentTypeSOAP)
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return header, body, nil
}

func buildEnvelope(serviceType, action, params string) []byte {
	var buf strings.Builder
	buf.WriteString("<?xml version=\"1.0\"?>")
	buf.WriteString("<s:Envelope xmlns:s=\"" + soapEnvelopeNS + "\" s:encodingStyle=\"" + soapEncodingNS + "\">")
	buf.WriteString("<s:Body>")
	buf.WriteString("<u:")
	buf.WriteString(action)
	buf.WriteString(" xmlns:u=\"")
	buf.WriteString(escapeXML(serviceType))
	buf.WriteString("\">")
	buf.WriteString(params)
	buf.WriteString("</u:")
	buf.WriteString(action)
	buf.WriteString(">")
	buf.WriteString("</s:Body>")
	buf.WriteString("</s:Envelope>")
	return []byte(buf.String())
}

func escapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}

// ParseResponse extracts out-argument values from a SOAP response body.
func (a *Action) ParseResponse(serviceType string, _ http.Header, body []byte) (map[string]any, error) {
	if fault, ok := parseFault(body); ok {
		fault.Action = a.name
		return nil, fault
	}

	decoder := xml.NewDecoder(bytes.NewReader(body))
	responseName := xml.Name{Space: serviceType, Local: a.name + "Response"}

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, &ParseError{What: "response of " + a.name, Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name != responseName {
			continue
		}
		return a.parseResponseArgs(decoder)
	}
}

// parseResponseArgs reads child elements of the ...Response element.
func (a *Action) parseResponseArgs(decoder *xml.Decoder) (map[string]any, error) {
	result := make(map[string]any)
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, &ParseError{What: "response of " + a.name, Err: err}
		}
		switch se := tok.(type) {
		case xml.StartElement:
			var text string
			if err := decoder.DecodeElement(&text, &se); err != nil {
				return nil, &ParseError{What: "argument " + se.Name.Local, Err: err}
			}
			arg := a.Argument(se.Name.Local, directionOut)
			if arg == nil {
				return nil, &ParseError{What: fmt.Sprintf("response of %s: undeclared out argument %s", a.name, se.Name.Local)}
			}
			value, err := arg.StateVariable.CoerceNative(text)
			if err != nil {
				return nil, err
			}
			result[arg.Name] = value
		case xml.EndElement:
			return result, nil
		}
	}
}

// parseFault looks for a SOAP Fault in the envelope body.
func parseFault(body []byte) (*ActionFaultError, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var found bool
	fault := &ActionFaultError{Body: body}

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case se.Name.Space == soapEnvelopeNS && se.Name.Local == "Fault":
			found = true
		case found && se.Name.Local == "errorCode":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				fault.Code = strings.TrimSpace(value)
			}
		case found && se.Name.Local == "errorDescription":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				fault.Description = strings.TrimSpace(value)
			}
		}
	}

	return fault, found
}
