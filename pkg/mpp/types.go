// Package mpp implements the MusicPi Protocol: request and response envelopes
// and their line-oriented text serialization.
package mpp

import (
	"fmt"

	"github.com/james-see/musicpi/pkg/music"
)

// Protocol limits
const (
	BufferSize   = 1024 // Default exchange buffer capacity in bytes
	UserKeySize  = 10   // Maximum RFID id length
	UsernameSize = 15   // Maximum username length
	NoMusicID    = -1   // Music id sent when none applies
)

// RequestCode identifies the operation asked by a client
type RequestCode int

const (
	Connect     RequestCode = 200
	ListMusic   RequestCode = 300
	GetMusic    RequestCode = 301
	AddMusic    RequestCode = 302
	DeleteMusic RequestCode = 303
)

// Valid reports whether c is a known request code
func (c RequestCode) Valid() bool {
	switch c {
	case Connect, ListMusic, GetMusic, AddMusic, DeleteMusic:
		return true
	}
	return false
}

func (c RequestCode) String() string {
	switch c {
	case Connect:
		return "connect"
	case ListMusic:
		return "list-music"
	case GetMusic:
		return "get-music"
	case AddMusic:
		return "add-music"
	case DeleteMusic:
		return "delete-music"
	}
	return fmt.Sprintf("request(%d)", int(c))
}

// ResponseCode is the outcome of an exchange
type ResponseCode int

const (
	Ok           ResponseCode = 200
	MusicUpdated ResponseCode = 201
	MusicCreated ResponseCode = 202
	Nok          ResponseCode = 400
	BadRequest   ResponseCode = 401
	NotFound     ResponseCode = 404
)

// Valid reports whether c is a known response code
func (c ResponseCode) Valid() bool {
	switch c {
	case Ok, MusicUpdated, MusicCreated, Nok, BadRequest, NotFound:
		return true
	}
	return false
}

// Success reports whether c is a positive outcome
func (c ResponseCode) Success() bool {
	return c == Ok || c == MusicUpdated || c == MusicCreated
}

func (c ResponseCode) String() string {
	switch c {
	case Ok:
		return "ok"
	case MusicUpdated:
		return "music updated"
	case MusicCreated:
		return "music created"
	case Nok:
		return "nok"
	case BadRequest:
		return "bad request"
	case NotFound:
		return "not found"
	}
	return fmt.Sprintf("response(%d)", int(c))
}

// Request is sent by a client. Music is only set for AddMusic; MusicID is
// NoMusicID unless the operation targets one music.
type Request struct {
	Code    RequestCode
	UserKey string
	Music   *music.Music
	MusicID int64
}

// NewRequest builds a request without music or id
func NewRequest(code RequestCode, userKey string) *Request {
	return &Request{Code: code, UserKey: userKey, MusicID: NoMusicID}
}

// HasMusicID reports whether the request targets a specific music
func (r *Request) HasMusicID() bool {
	return r.MusicID != NoMusicID
}

// Response is returned by the server
type Response struct {
	Code     ResponseCode
	Username string
	Music    *music.Music
	MusicIDs *music.IDList
}

// NewResponse builds a response carrying only a code and username
func NewResponse(code ResponseCode, username string) *Response {
	return &Response{Code: code, Username: username}
}

// StatusError reports a non-success response code
type StatusError struct {
	Code ResponseCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d (%s)", int(e.Code), e.Code)
}

// Err returns a *StatusError when the response is not a success
func (r *Response) Err() error {
	if r.Code.Success() {
		return nil
	}
	return &StatusError{Code: r.Code}
}
