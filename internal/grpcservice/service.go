// Package grpcservice implements the History gRPC service and its HTTP/JSON
// gateway.
//
// There is no generated code: the service descriptor is written by hand in
// desc.go and messages are Go structs carried by a JSON codec.
package grpcservice

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/imaging"
	"go.klb.dev/clipstash/internal/model"
)

// SourceHeader names the caller in subscriber listings.
const SourceHeader = "x-clipstash-source"

const watchBuffer = 64

// Service implements HistoryServer on top of a history.Manager.
type Service struct {
	m       *history.Manager
	version string
	started time.Time
	proc    *process.Process
}

// New returns a Service backed by m.
func New(m *history.Manager, version string) *Service {
	s := &Service{m: m, version: version, started: time.Now()}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Debug("process stats unavailable", "err", err)
	} else {
		s.proc = p
	}
	return s
}

// List implements History.List.
func (s *Service) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	list := s.m.List
	if req.Fuzzy {
		list = s.m.Search
	}
	items, err := list(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &ListResponse{Items: make([]Item, len(items))}
	for i, it := range items {
		out.Items[i] = FromItem(it, false)
	}
	return out, nil
}

// Get implements History.Get.
func (s *Service) Get(ctx context.Context, req *ItemRequest) (*Item, error) {
	it, err := s.m.Resolve(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := FromItem(it, true)
	return &out, nil
}

// Capture implements History.Capture.
func (s *Service) Capture(ctx context.Context, req *CaptureRequest) (*Item, error) {
	var c model.Content
	switch {
	case req.Text != nil && req.PNG != nil:
		return nil, status.Error(codes.InvalidArgument, "set text or png, not both")
	case req.Text != nil:
		c = model.Text(*req.Text)
	case req.PNG != nil:
		img, err := imaging.Decode(req.PNG)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode png: %v", err)
		}
		c = img
	default:
		return nil, status.Error(codes.InvalidArgument, "nothing to capture")
	}

	it, err := s.m.Capture(ctx, c)
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Info("item captured by request", "id", it.ID, "source", sourceFromCtx(ctx))
	out := FromItem(it, false)
	return &out, nil
}

// Pin implements History.Pin.
func (s *Service) Pin(ctx context.Context, req *PinRequest) (*Item, error) {
	id, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	var it model.Item
	if req.Pinned == nil {
		it, err = s.m.TogglePin(ctx, id)
	} else {
		it, err = s.m.SetPinned(ctx, id, *req.Pinned)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	out := FromItem(it, false)
	return &out, nil
}

// Remove implements History.Remove.
func (s *Service) Remove(ctx context.Context, req *ItemRequest) (*Empty, error) {
	id, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.m.Remove(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Clear implements History.Clear.
func (s *Service) Clear(ctx context.Context, _ *Empty) (*ClearResponse, error) {
	n, err := s.m.Clear(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClearResponse{Removed: n}, nil
}

// Select implements History.Select.
func (s *Service) Select(ctx context.Context, req *SelectRequest) (*SelectResponse, error) {
	id, err := s.resolveID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	it, injected, err := s.m.Select(ctx, id, req.Inject)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SelectResponse{Item: FromItem(it, false), Injected: injected}, nil
}

// SetWatching implements History.SetWatching.
func (s *Service) SetWatching(ctx context.Context, req *SetWatchingRequest) (*StatusResponse, error) {
	if err := s.m.SetWatching(req.Watching); err != nil {
		return nil, toStatus(err)
	}
	return s.Status(ctx, &Empty{})
}

// Status implements History.Status.
func (s *Service) Status(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	st, err := s.m.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &StatusResponse{
		Version:   s.version,
		StartedAt: s.started,
		Total:     st.Total,
		Pinned:    st.Pinned,
		Watching:  st.Watching,
		Clipboard: st.Clipboard,
		Injector:  st.Injector,
		DBPath:    st.DBPath,
		PID:       os.Getpid(),
	}
	if s.proc != nil {
		if mi, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			out.RSSBytes = mi.RSS
		}
	}
	for _, p := range s.m.Hub().Peers() {
		out.Subscribers = append(out.Subscribers, Subscriber{ID: p.ID, Source: p.Source, ConnectedAt: p.ConnectedAt})
	}
	return out, nil
}

// Watch implements History.Watch.
func (s *Service) Watch(req *WatchRequest, stream WatchServer) error {
	ctx := stream.Context()
	wp, cancel := s.subscribe(addrFromCtx(ctx)+"/watch", sourceFromCtx(ctx), req.Replay)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-wp.ch:
			if err := stream.Send(fromEvent(ev)); err != nil {
				return err
			}
		}
	}
}

// subscribe registers a watch peer with the hub. The returned func
// unregisters it.
func (s *Service) subscribe(prefix, source string, replay bool) (*watchPeer, func()) {
	wp := &watchPeer{
		id:          prefix + "/" + uuid.NewString()[:8],
		source:      source,
		ch:          make(chan hub.Event, watchBuffer),
		connectedAt: time.Now(),
	}
	h := s.m.Hub()
	h.Register(wp, replay)
	slog.Info("watch started", "peer", wp.id, "replay", replay)
	return wp, func() { h.Unregister(wp) }
}

func (s *Service) resolveID(ctx context.Context, ref string) (uuid.UUID, error) {
	it, err := s.m.Resolve(ctx, ref)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	return it.ID, nil
}

// toStatus maps domain errors to gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, history.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, history.ErrAmbiguous):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, history.ErrNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	switch apperr.KindOf(err) {
	case apperr.KindConfig:
		return status.Error(codes.InvalidArgument, err.Error())
	case apperr.KindClipboard:
		return status.Error(codes.Unavailable, err.Error())
	case apperr.KindUnexpected:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		slog.Error("request failed", "err", err)
		return status.Error(codes.Internal, err.Error())
	}
}

func sourceFromCtx(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(SourceHeader); len(vals) > 0 {
			return vals[0]
		}
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "local"
}

// watchPeer is a transient hub.Peer backed by a Watch stream.
type watchPeer struct {
	id          string
	source      string
	ch          chan hub.Event
	connectedAt time.Time
	dropped     atomic.Int64
}

func (p *watchPeer) ID() string { return p.id }

func (p *watchPeer) Info() hub.PeerInfo {
	return hub.PeerInfo{ID: p.id, Source: p.source, ConnectedAt: p.connectedAt}
}

func (p *watchPeer) Send(ev hub.Event) {
	select {
	case p.ch <- ev:
	default:
		n := p.dropped.Add(1)
		slog.Warn("watch peer channel full, dropping", "peer", p.id, "dropped", n)
	}
}
