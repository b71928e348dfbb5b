package model

import "github.com/pkg/errors"

// HTTPRequestPayload is the payload for HTTP request messages
type HTTPRequestPayload struct {
	// Request is the HTTP request
	Request *HTTPRequest `json:"request"`
}

// HTTPResponsePayload is the payload for HTTP response messages
type HTTPResponsePayload struct {
	// Response is the HTTP response
	Response *HTTPResponse `json:"response"`
}

// NewHTTPRequestMessage creates a new HTTP request message
func NewHTTPRequestMessage(request *HTTPRequest) (*Message, error) {
	return NewMessage(MessageTypeHTTPRequest, HTTPRequestPayload{Request: request})
}

// NewHTTPResponseMessage creates a new HTTP response message
func NewHTTPResponseMessage(response *HTTPResponse) (*Message, error) {
	return NewMessage(MessageTypeHTTPResponse, HTTPResponsePayload{Response: response})
}

// ParseHTTPRequestPayload parses the HTTP request payload
func (m *Message) ParseHTTPRequestPayload() (*HTTPRequest, error) {
	var payload HTTPRequestPayload
	if err := m.ParsePayload(&payload); err != nil {
		return nil, err
	}
	if payload.Request == nil {
		return nil, errors.New("http_request message without request")
	}
	return payload.Request, nil
}

// ParseHTTPResponsePayload parses the HTTP response payload
func (m *Message) ParseHTTPResponsePayload() (*HTTPResponse, error) {
	var payload HTTPResponsePayload
	if err := m.ParsePayload(&payload); err != nil {
		return nil, err
	}
	if payload.Response == nil {
		return nil, errors.New("http_response message without response")
	}
	return payload.Response, nil
}
