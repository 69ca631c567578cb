package protocol

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gurukamath/silkworm/chain"
	"github.com/gurukamath/silkworm/common"
	"github.com/gurukamath/silkworm/log"
	"github.com/gurukamath/silkworm/sentry"
	"github.com/gurukamath/silkworm/store"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory sentry.Backend double recording every call a
// message's Execute or Handle makes, so tests can assert on dispatch
// without a real gRPC connection.
type fakeBackend struct {
	sentByMinBlock []sentry.MessageID
	sentByID       []sentry.MessageID
	sentToAll      []sentry.MessageID
	penalties      []sentry.PenaltyReason
	sendErr        error
}

func (f *fakeBackend) SetStatus(ctx context.Context, status sentry.StatusData) error { return nil }
func (f *fakeBackend) HandShake(ctx context.Context) (uint32, error)                 { return 68, nil }
func (f *fakeBackend) PenalizePeer(ctx context.Context, peer common.PeerID, reason sentry.PenaltyReason) error {
	f.penalties = append(f.penalties, reason)
	return nil
}
func (f *fakeBackend) PeerMinBlock(ctx context.Context, peer common.PeerID, minBlock uint64) error {
	return nil
}
func (f *fakeBackend) SendMessageByMinBlock(ctx context.Context, minBlock uint64, id sentry.MessageID, data []byte) (sentry.SentPeers, error) {
	f.sentByMinBlock = append(f.sentByMinBlock, id)
	if f.sendErr != nil {
		return sentry.SentPeers{}, f.sendErr
	}
	return sentry.SentPeers{Peers: []common.PeerID{"peer-1"}}, nil
}
func (f *fakeBackend) SendMessageByID(ctx context.Context, peer common.PeerID, id sentry.MessageID, data []byte) (sentry.SentPeers, error) {
	f.sentByID = append(f.sentByID, id)
	return sentry.SentPeers{Peers: []common.PeerID{peer}}, f.sendErr
}
func (f *fakeBackend) SendMessageToRandomPeers(ctx context.Context, maxPeers int, id sentry.MessageID, data []byte) (sentry.SentPeers, error) {
	return sentry.SentPeers{}, nil
}
func (f *fakeBackend) SendMessageToAll(ctx context.Context, id sentry.MessageID, data []byte) (sentry.SentPeers, error) {
	f.sentToAll = append(f.sentToAll, id)
	return sentry.SentPeers{}, f.sendErr
}
func (f *fakeBackend) Messages(ctx context.Context, filter sentry.MessageFilter) (<-chan sentry.InboundMessage, error) {
	return nil, nil
}
func (f *fakeBackend) PeerCount(ctx context.Context) (int, error) { return 1, nil }

// fakeHeaderSink/fakeBodySink record calls for inbound.Handle tests.
type fakeHeaderSink struct {
	added      []*chain.Header
	announced  []common.Hash
	addHeadErr error
}

func (f *fakeHeaderSink) AddHeaders(peer common.PeerID, headers []*chain.Header) error {
	f.added = append(f.added, headers...)
	return f.addHeadErr
}
func (f *fakeHeaderSink) AnnounceHead(peer common.PeerID, hash common.Hash, number uint64) {
	f.announced = append(f.announced, hash)
}

type fakeBodySink struct {
	lastRequestID uint64
	lastBodies    []*chain.Body
}

func (f *fakeBodySink) AddBodies(peer common.PeerID, requestID uint64, bodies []*chain.Body, tx store.ReadTx) error {
	f.lastRequestID = requestID
	f.lastBodies = bodies
	return nil
}

func TestGetBlockHeadersExecuteSendsByMinBlock(t *testing.T) {
	backend := &fakeBackend{}
	msg := &GetBlockHeaders{MinBlock: 10, Request: HeadersRequest{Amount: 5}}
	err := msg.Execute(context.Background(), Deps{Sentry: backend, Log: log.Discard()})
	require.NoError(t, err)
	require.Equal(t, []sentry.MessageID{sentry.MessageGetBlockHeaders}, backend.sentByMinBlock)
}

func TestGetBlockBodiesExecutePrefersTargetedPeer(t *testing.T) {
	backend := &fakeBackend{}
	msg := &GetBlockBodies{Peer: "peer-7", Request: BodiesRequest{Hashes: []common.Hash{{1}}}}
	err := msg.Execute(context.Background(), Deps{Sentry: backend, Log: log.Discard()})
	require.NoError(t, err)
	require.Equal(t, []sentry.MessageID{sentry.MessageGetBlockBodies}, backend.sentByID)
	require.Empty(t, backend.sentByMinBlock)
}

func TestPeerPenalizationExecute(t *testing.T) {
	backend := &fakeBackend{}
	msg := &PeerPenalization{Peer: "peer-1", Reason: sentry.PenaltyTimeout}
	require.NoError(t, msg.Execute(context.Background(), Deps{Sentry: backend, Log: log.Discard()}))
	require.Equal(t, []sentry.PenaltyReason{sentry.PenaltyTimeout}, backend.penalties)
}

func TestDecodeUnhandledKindReturnsNilNil(t *testing.T) {
	in, err := Decode(sentry.InboundMessage{ID: sentry.MessageStatus})
	require.NoError(t, err)
	require.Nil(t, in)
}

func TestDecodeMalformedPayloadErrors(t *testing.T) {
	_, err := Decode(sentry.InboundMessage{ID: sentry.MessageGetBlockHeaders, Data: []byte{0xff, 0xff}})
	require.Error(t, err)
}

func TestDecodeBlockHeadersRoundTrip(t *testing.T) {
	h := &chain.Header{Number: 1, Difficulty: uint256.NewInt(1)}
	resp := HeadersResponse{RequestID: 9, Headers: []*chain.Header{h}}
	data, err := rlp.EncodeToBytes(resp)
	require.NoError(t, err)

	in, err := Decode(sentry.InboundMessage{ID: sentry.MessageBlockHeaders, PeerID: "peer-1", Data: data})
	require.NoError(t, err)
	require.Equal(t, "BlockHeaders", in.Name())

	sink := &fakeHeaderSink{}
	out, err := in.Handle(context.Background(), Deps{Headers: sink})
	require.NoError(t, err)
	require.Nil(t, out)
	require.Len(t, sink.added, 1)
	require.Equal(t, uint64(1), sink.added[0].Number)
}

func TestInboundBlockBodiesItemCount(t *testing.T) {
	resp := BodiesResponse{RequestID: 3, Bodies: []*chain.Body{{}, {}}}
	data, err := rlp.EncodeToBytes(resp)
	require.NoError(t, err)

	in, err := Decode(sentry.InboundMessage{ID: sentry.MessageBlockBodies, Data: data})
	require.NoError(t, err)

	sized, ok := in.(interface{ ItemCount() int })
	require.True(t, ok)
	require.Equal(t, 2, sized.ItemCount())

	sink := &fakeBodySink{}
	_, err = in.Handle(context.Background(), Deps{Bodies: sink})
	require.NoError(t, err)
	require.Equal(t, uint64(3), sink.lastRequestID)
	require.Len(t, sink.lastBodies, 2)
}

func TestInboundNewBlockHashesAnnouncesHead(t *testing.T) {
	pkt := NewBlockHashesPacket{{Hash: common.HexToHash("0x1"), Number: 5}}
	data, err := rlp.EncodeToBytes(pkt)
	require.NoError(t, err)

	in, err := Decode(sentry.InboundMessage{ID: sentry.MessageNewBlockHashes, Data: data})
	require.NoError(t, err)

	sink := &fakeHeaderSink{}
	_, err = in.Handle(context.Background(), Deps{Headers: sink})
	require.NoError(t, err)
	require.Equal(t, []common.Hash{common.HexToHash("0x1")}, sink.announced)
}
