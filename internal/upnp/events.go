package upnp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	eventNS           = "urn:schemas-upnp-org:event-1-0"
	lastChangeName    = "LastChange"
	masterChannelName = "Master"
)

// propertyValue is one evented variable extracted from a NOTIFY body.
type propertyValue struct {
	name  string
	value string
}

// parsePropertySet flattens a GENA propertyset into variable assignments in
// document order. LastChange payloads are expanded into their inner variables.
func parsePropertySet(body []byte) ([]propertyValue, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	root, err := nextStart(decoder)
	if err != nil {
		return nil, &ParseError{What: "propertyset", Err: err}
	}
	if root.Name.Space != eventNS || root.Name.Local != "propertyset" {
		return nil, &ParseError{What: fmt.Sprintf("propertyset: unexpected root %s", root.Name.Local)}
	}

	var out []propertyValue
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, &ParseError{What: "propertyset", Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "property" {
			continue
		}

		props, err := parseProperty(decoder)
		if err != nil {
			return nil, err
		}
		out = append(out, props...)
	}
}

// parseProperty reads the children of one e:property element.
func parseProperty(decoder *xml.Decoder) ([]propertyValue, error) {
	var out []propertyValue
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, &ParseError{What: "property", Err: err}
		}

		switch se := tok.(type) {
		case xml.StartElement:
			var text string
			if err := decoder.DecodeElement(&text, &se); err != nil {
				return nil, &ParseError{What: "property " + se.Name.Local, Err: err}
			}
			if se.Name.Local != lastChangeName {
				out = append(out, propertyValue{name: se.Name.Local, value: text})
				continue
			}
			changes, err := parseLastChange(text)
			if err != nil {
				return nil, err
			}
			out = append(out, changes...)
		case xml.EndElement:
			return out, nil
		}
	}
}

// parseLastChange reads Event/InstanceID/<Var val=".."/>. Variables qualified
// with a channel other than Master are skipped.
func parseLastChange(payload string) ([]propertyValue, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	decoder := xml.NewDecoder(strings.NewReader(payload))
	var out []propertyValue
	depth := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, &ParseError{What: lastChangeName, Err: err}
		}

		switch se := tok.(type) {
		case xml.StartElement:
			depth++
			// Event is depth 1, InstanceID depth 2, variables depth 3.
			if depth != 3 {
				continue
			}
			val, hasVal := attr(se, "val")
			if !hasVal {
				continue
			}
			if channel, ok := attr(se, "channel"); ok && channel != masterChannelName {
				continue
			}
			out = append(out, propertyValue{name: se.Name.Local, value: val})
		case xml.EndElement:
			depth--
		}
	}
}

func attr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func nextStart(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
