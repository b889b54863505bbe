package grpcservice

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/imaging"
	"go.klb.dev/clipstash/internal/model"
)

const (
	maxCaptureBytes = 64 << 20
	thumbnailSize   = 256
)

// NewGateway returns the HTTP/JSON API for svc. A non-empty token requires a
// matching bearer Authorization header on every request.
//
//	GET    /v1/items                  ?q=&limit=&fuzzy=
//	GET    /v1/items/{id}
//	GET    /v1/items/{id}/thumbnail   ?w=&h=   (image/png)
//	POST   /v1/items                  text/plain, image/png or JSON CaptureRequest
//	POST   /v1/items/{id}/pin         ?pinned=true|false, toggles when absent
//	POST   /v1/items/{id}/select      ?inject=true
//	DELETE /v1/items/{id}
//	DELETE /v1/items                  clears unpinned items
//	GET    /v1/status
//	GET    /v1/events                 ?replay=true   (WebSocket, JSON events)
//	POST   /v1/pause
//	POST   /v1/resume
func NewGateway(svc *Service, token string) (*gwruntime.ServeMux, error) {
	var opts []gwruntime.ServeMuxOption
	if token != "" {
		opts = append(opts, gwruntime.WithMiddlewares(bearerAuth(token)))
	}
	mux := gwruntime.NewServeMux(opts...)
	g := &gateway{svc: svc, mux: mux}

	routes := []struct {
		method, path string
		h            gwruntime.HandlerFunc
	}{
		{http.MethodGet, "/v1/items", g.list},
		{http.MethodGet, "/v1/items/{id}", g.get},
		{http.MethodGet, "/v1/items/{id}/thumbnail", g.thumbnail},
		{http.MethodPost, "/v1/items", g.capture},
		{http.MethodPost, "/v1/items/{id}/pin", g.pin},
		{http.MethodPost, "/v1/items/{id}/select", g.selectItem},
		{http.MethodDelete, "/v1/items/{id}", g.remove},
		{http.MethodDelete, "/v1/items", g.clear},
		{http.MethodGet, "/v1/status", g.status},
		{http.MethodGet, "/v1/events", g.events},
		{http.MethodPost, "/v1/pause", g.watching(false)},
		{http.MethodPost, "/v1/resume", g.watching(true)},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, fmt.Errorf("gateway route %s %s: %w", rt.method, rt.path, err)
		}
	}
	return mux, nil
}

// bearerAuth checks the Authorization header. Browsers cannot set headers on
// a WebSocket handshake, so an access_token query parameter is accepted too.
func bearerAuth(token string) gwruntime.Middleware {
	return func(next gwruntime.HandlerFunc) gwruntime.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			value := r.Header.Get("Authorization")
			if value == "" {
				value = r.URL.Query().Get("access_token")
			}
			if !checkToken(value, token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clipstash"`)
				http.Error(w, "invalid or missing token", http.StatusUnauthorized)
				return
			}
			next(w, r, params)
		}
	}
}

type gateway struct {
	svc *Service
	mux *gwruntime.ServeMux
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	_, outbound := gwruntime.MarshalerForRequest(g.mux, r)
	gwruntime.HTTPError(r.Context(), g.mux, outbound, w, r, err)
}

func (g *gateway) reply(w http.ResponseWriter, r *http.Request, v any) {
	g.replyStatus(w, r, http.StatusOK, v)
}

// replyStatus writes v with the same marshaler HTTPError uses for failures.
func (g *gateway) replyStatus(w http.ResponseWriter, r *http.Request, code int, v any) {
	_, outbound := gwruntime.MarshalerForRequest(g.mux, r)
	data, err := outbound.Marshal(v)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "encode response: %v", err))
		return
	}
	w.Header().Set("Content-Type", outbound.ContentType(v))
	w.WriteHeader(code)
	_, _ = w.Write(append(data, '\n'))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s: want a non-negative integer, got %q", key, s)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: want true or false, got %q", key, s)
	}
	return &b, nil
}

func (g *gateway) list(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	fuzzy, err := queryBool(r, "fuzzy")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.List(r.Context(), &ListRequest{
		Query: r.URL.Query().Get("q"),
		Limit: limit,
		Fuzzy: fuzzy != nil && *fuzzy,
	})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) get(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.svc.Get(r.Context(), &ItemRequest{ID: params["id"]})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) thumbnail(w http.ResponseWriter, r *http.Request, params map[string]string) {
	maxW, err := queryInt(r, "w", thumbnailSize)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	maxH, err := queryInt(r, "h", thumbnailSize)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	it, err := g.svc.m.Resolve(r.Context(), params["id"])
	if err != nil {
		g.fail(w, r, toStatus(err))
		return
	}
	img, ok := it.Content.(model.Image)
	if !ok {
		g.fail(w, r, status.Errorf(codes.FailedPrecondition, "item %s is %s, not an image", it.ID, it.Content.Kind()))
		return
	}
	thumb, err := imaging.Thumbnail(img, uint(maxW), uint(maxH))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "thumbnail: %v", err))
		return
	}
	data, err := imaging.Encode(thumb)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "encode thumbnail: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (g *gateway) capture(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBytes+1))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	if len(body) > maxCaptureBytes {
		g.fail(w, r, status.Errorf(codes.ResourceExhausted, "body larger than %d bytes", maxCaptureBytes))
		return
	}

	var req CaptureRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "image/png":
		req.PNG = body
	case "application/json":
		inbound, _ := gwruntime.MarshalerForRequest(g.mux, r)
		if err := inbound.Unmarshal(body, &req); err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "decode request: %v", err))
			return
		}
	default:
		text := string(body)
		req.Text = &text
	}

	resp, err := g.svc.Capture(r.Context(), &req)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.replyStatus(w, r, http.StatusCreated, resp)
}

func (g *gateway) pin(w http.ResponseWriter, r *http.Request, params map[string]string) {
	pinned, err := queryBool(r, "pinned")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.Pin(r.Context(), &PinRequest{ID: params["id"], Pinned: pinned})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) selectItem(w http.ResponseWriter, r *http.Request, params map[string]string) {
	inject, err := queryBool(r, "inject")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp, err := g.svc.Select(r.Context(), &SelectRequest{ID: params["id"], Inject: inject != nil && *inject})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) remove(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if _, err := g.svc.Remove(r.Context(), &ItemRequest{ID: params["id"]}); err != nil {
		g.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *gateway) clear(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.Clear(r.Context(), &Empty{})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.Status(r.Context(), &Empty{})
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r, resp)
}

func (g *gateway) watching(on bool) gwruntime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		resp, err := g.svc.SetWatching(r.Context(), &SetWatchingRequest{Watching: on})
		if err != nil {
			g.fail(w, r, err)
			return
		}
		g.reply(w, r, resp)
	}
}
