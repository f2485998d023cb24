package peer

import (
	"context"
	"encoding/json"

	"github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bobg/pit"
	"github.com/bobg/pit/drive"
)

// hello introduces one peer to another.
type hello struct {
	ID    string `json:"id"`
	Addr  string `json:"addr,omitempty"`
	Topic string `json:"topic"`
}

func (h hello) encode() ([]byte, error) {
	b, err := canonicaljson.Marshal(h)
	return b, errors.Wrap(err, "encoding hello")
}

func decodeHello(b []byte) (hello, error) {
	var h hello
	err := json.Unmarshal(b, &h)
	return h, errors.Wrap(err, "decoding hello")
}

var _ ReplicatorServer = &Server{}

// Server serves the heads of a fixed set of drives,
// and the blobs of a store,
// to peers on one topic.
type Server struct {
	UnimplementedReplicatorServer

	id     string
	addr   string
	topic  pit.Topic
	store  *Store
	drives map[pit.Key]*drive.Drive

	// Called for each hello from another peer.
	onHello func(hello)
}

// NewServer produces a Server for the given scope.
// The id distinguishes this peer from all others;
// addr is where it can be reached (if anywhere).
func NewServer(id, addr string, topic pit.Topic, scope Scope) *Server {
	drives := make(map[pit.Key]*drive.Drive)
	for _, d := range scope.Drives {
		drives[d.Key()] = d
	}
	return &Server{
		id:     id,
		addr:   addr,
		topic:  topic,
		store:  scope.Store,
		drives: drives,
	}
}

// Hello exchanges introductions.
func (s *Server) Hello(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, err := decodeHello(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if h.Topic != s.topic.String() {
		return nil, status.Errorf(codes.InvalidArgument, "not on topic %s", h.Topic)
	}
	if h.ID != s.id && s.onHello != nil {
		s.onHello(h)
	}
	resp, err := hello{ID: s.id, Addr: s.addr, Topic: s.topic.String()}.encode()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(resp), nil
}

// Head serves the encoded latest head of a drive.
func (s *Server) Head(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	key, err := pit.KeyFromHex(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, ok := s.drives[key]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "drive %s not shared here", key)
	}
	b, err := d.HeadBlob(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

// Get serves a blob.
// Only blobs already present locally are served;
// a peer never fetches on behalf of another.
func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	ref, err := pit.RefFromHex(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b, err := s.store.GetLocal(ctx, ref)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pit.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, drive.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
