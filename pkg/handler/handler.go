// Package handler dispatches MusicPi requests against a music store
package handler

import (
	"errors"

	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/store"
)

// ErrMissingMusic is returned when a request lacks the music or id it needs
var ErrMissingMusic = errors.New("handler: request lacks music or music id")

// Store is the persistence the handlers need
type Store interface {
	LookupUsername(key string) (string, error)
	ListMusicIDs(key string) (*music.IDList, error)
	SaveMusic(m *music.Music, key string) (bool, error)
	FetchMusic(id int64, key string) (*music.Music, error)
	DeleteMusic(id int64, key string) error
}

// Handler turns requests into responses
type Handler struct {
	store Store
	codec *mpp.Codec
	log   *zap.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.log = l
	}
}

// WithCodec sets the codec used by Exchange
func WithCodec(c *mpp.Codec) Option {
	return func(h *Handler) {
		h.codec = c
	}
}

// New creates a handler backed by s
func New(s Store, opts ...Option) *Handler {
	h := &Handler{store: s}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.codec == nil {
		h.codec = mpp.NewCodec(mpp.BufferSize)
	}
	return h
}

// Codec returns the codec used by Exchange
func (h *Handler) Codec() *mpp.Codec {
	return h.codec
}

// CodeFor maps an error to the response code reported to the client
func CodeFor(err error) mpp.ResponseCode {
	switch {
	case err == nil:
		return mpp.Ok
	case errors.Is(err, mpp.ErrBadRequest),
		errors.Is(err, store.ErrUnknownUser),
		errors.Is(err, store.ErrInvalidKey),
		errors.Is(err, store.ErrInvalidMusic),
		errors.Is(err, ErrMissingMusic):
		return mpp.BadRequest
	case errors.Is(err, store.ErrNotFound):
		return mpp.NotFound
	default:
		return mpp.Nok
	}
}

// Handle runs one request. The user is resolved before any store access; an
// unknown user gets BadRequest and nothing else happens.
func (h *Handler) Handle(req *mpp.Request) *mpp.Response {
	if req == nil {
		return mpp.NewResponse(mpp.BadRequest, "")
	}

	username, err := h.store.LookupUsername(req.UserKey)
	if err != nil {
		h.logFailure(req, err)
		return mpp.NewResponse(CodeFor(err), "")
	}

	var resp *mpp.Response
	switch req.Code {
	case mpp.Connect:
		resp = mpp.NewResponse(mpp.Ok, username)
	case mpp.ListMusic:
		resp, err = h.listMusic(req, username)
	case mpp.GetMusic:
		resp, err = h.getMusic(req, username)
	case mpp.AddMusic:
		resp, err = h.addMusic(req, username)
	case mpp.DeleteMusic:
		resp, err = h.deleteMusic(req, username)
	default:
		err = mpp.ErrBadRequest
	}
	if err != nil {
		h.logFailure(req, err)
		return mpp.NewResponse(CodeFor(err), username)
	}
	return resp
}

// Exchange decodes a raw request, handles it and encodes the response. A
// response that does not fit the buffer is replaced by Nok.
func (h *Handler) Exchange(data []byte) ([]byte, *mpp.Request, *mpp.Response) {
	req, err := h.codec.DeserializeRequest(data)
	var resp *mpp.Response
	if err != nil {
		h.log.Info("rejected request", zap.Error(err))
		resp = mpp.NewResponse(mpp.BadRequest, "")
	} else {
		resp = h.Handle(req)
	}

	out, err := h.codec.SerializeResponse(resp)
	if err != nil {
		h.log.Warn("response not serializable", zap.Int("code", int(resp.Code)), zap.Error(err))
		resp = mpp.NewResponse(mpp.Nok, resp.Username)
		if out, err = h.codec.SerializeResponse(resp); err != nil {
			resp = mpp.NewResponse(mpp.Nok, "")
			out, _ = h.codec.SerializeResponse(resp)
		}
	}
	return out, req, resp
}

func (h *Handler) listMusic(req *mpp.Request, username string) (*mpp.Response, error) {
	ids, err := h.store.ListMusicIDs(req.UserKey)
	if err != nil {
		return nil, err
	}
	resp := mpp.NewResponse(mpp.Ok, username)
	resp.MusicIDs = ids
	return resp, nil
}

func (h *Handler) getMusic(req *mpp.Request, username string) (*mpp.Response, error) {
	if !req.HasMusicID() {
		return nil, ErrMissingMusic
	}
	m, err := h.store.FetchMusic(req.MusicID, req.UserKey)
	if err != nil {
		return nil, err
	}
	resp := mpp.NewResponse(mpp.Ok, username)
	resp.Music = m
	return resp, nil
}

func (h *Handler) addMusic(req *mpp.Request, username string) (*mpp.Response, error) {
	if req.Music == nil {
		return nil, ErrMissingMusic
	}
	created, err := h.store.SaveMusic(req.Music, req.UserKey)
	if err != nil {
		return nil, err
	}
	h.log.Debug("music stored",
		zap.String("user", req.UserKey),
		zap.Int64("music_id", req.Music.CreatedAt),
		zap.Bool("created", created))
	return mpp.NewResponse(mpp.MusicCreated, username), nil
}

func (h *Handler) deleteMusic(req *mpp.Request, username string) (*mpp.Response, error) {
	if !req.HasMusicID() {
		return nil, ErrMissingMusic
	}
	if err := h.store.DeleteMusic(req.MusicID, req.UserKey); err != nil {
		return nil, err
	}
	return mpp.NewResponse(mpp.Ok, username), nil
}

func (h *Handler) logFailure(req *mpp.Request, err error) {
	fields := []zap.Field{
		zap.Stringer("request", req.Code),
		zap.String("user", req.UserKey),
		zap.Stringer("response", CodeFor(err)),
		zap.Error(err),
	}
	if CodeFor(err) == mpp.Nok {
		h.log.Error("request failed", fields...)
		return
	}
	h.log.Info("request refused", fields...)
}
