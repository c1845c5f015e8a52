// Package twiml renders the TwiML documents that connect calls to the media bridge.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

const (
	waitMessage  = "Please wait while we connect your call to the A. I. Booking assistant."
	readyMessage = "O.K. you can start talking!"
)

type response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  stream
}

type stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// StreamURL is the websocket address of a media stream route for number.
func StreamURL(host, route, number string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")
	return fmt.Sprintf("wss://%s/%s/%s", host, strings.Trim(route, "/"), url.PathEscape(number))
}

// IncomingCall answers an inbound call and connects it to the inbound media stream.
func IncomingCall(host, from string) (string, error) {
	return render(response{Verbs: []any{
		say{Text: waitMessage},
		pause{Length: 1},
		say{Text: readyMessage},
		connect{Stream: stream{URL: StreamURL(host, "media-stream", from)}},
	}})
}

// OutboundCall connects an answered outbound call to the outbound media stream.
func OutboundCall(domain, to string) (string, error) {
	return render(response{Verbs: []any{
		connect{Stream: stream{URL: StreamURL(domain, "media-stream-outbound", to)}},
	}})
}

func render(r response) (string, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return xml.Header + string(out), nil
}
