package peer

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bobg/pit"
)

// Blobs are small but drive indexes can be large.
const maxMsgBytes = 64 << 20

var _ Remote = &Client{}

// Client talks to the replication service of one peer.
type Client struct {
	rc     ReplicatorClient
	closer interface{ Close() error }
}

// NewClient produces a Client using cc.
// Closing the Client closes cc if it can be closed.
func NewClient(cc grpc.ClientConnInterface) *Client {
	c := &Client{rc: NewReplicatorClient(cc)}
	if closer, ok := cc.(interface{ Close() error }); ok {
		c.closer = closer
	}
	return c
}

// Dial connects to the peer listening at addr.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgBytes),
			grpc.MaxCallSendMsgSize(maxMsgBytes),
		),
	}, opts...)
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	return NewClient(cc), nil
}

func (c *Client) hello(ctx context.Context, h hello) (hello, error) {
	req, err := h.encode()
	if err != nil {
		return hello{}, err
	}
	resp, err := c.rc.Hello(ctx, wrapperspb.Bytes(req))
	if err != nil {
		return hello{}, mapRPC(err)
	}
	return decodeHello(resp.GetValue())
}

// Head gets the encoded latest head the peer has for the drive with the given key.
// It returns pit.ErrNotFound if the peer has none.
func (c *Client) Head(ctx context.Context, key pit.Key) (pit.Blob, error) {
	resp, err := c.rc.Head(ctx, wrapperspb.String(key.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return resp.GetValue(), nil
}

// Get gets the blob with hash ref from the peer.
// It returns ErrMismatch if what arrives is some other blob.
func (c *Client) Get(ctx context.Context, ref pit.Ref) (pit.Blob, error) {
	resp, err := c.rc.Get(ctx, wrapperspb.String(ref.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	blob := pit.Blob(resp.GetValue())
	if blob.Ref() != ref {
		return nil, errors.Wrapf(ErrMismatch, "getting %s", ref)
	}
	return blob, nil
}

// Close closes the connection to the peer.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return pit.ErrNotFound
	}
	return err
}
