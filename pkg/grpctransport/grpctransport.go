/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpctransport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/openpmix/prrte-sub010/pkg/logging"
	"github.com/openpmix/prrte-sub010/pkg/modules"
	t "github.com/openpmix/prrte-sub010/pkg/types"
)

const (
	// Maximum size of a gRPC message
	maxMessageSize = 1073741824

	// Number of buffers queued toward one neighbor before Send starts failing.
	queueSize = 4096

	// Metadata key carrying the rank of the connecting daemon.
	senderKey = "relm-sender"

	dialTimeout = 10 * time.Second
)

var ErrQueueFull = errors.New("send queue full")

// GrpcTransport is a transport module that moves buffers between daemons over gRPC.
// Each daemon runs one gRPC server. For each neighbor it sends to, it opens one client stream,
// on which every buffer travels as one frame. Buffers toward one neighbor are sent in order.
type GrpcTransport struct {

	// The rank of the daemon that uses this transport.
	ownID t.Rank

	// Maps the rank of each daemon to its network address "IPAddress:port".
	membership map[t.Rank]string

	// Channel to which all incoming buffers are written.
	incomingMessages chan modules.ReceivedMessage

	connMutex   sync.Mutex
	connections map[t.Rank]*connection

	grpcServer      *grpc.Server
	grpcServerError error
	listener        net.Listener

	doneC     chan struct{}
	waitGroup sync.WaitGroup

	logger logging.Logger
}

type outbound struct {
	data []byte
	done func(error)
}

// connection is the sending side of the link to one daemon, served by its own goroutine.
type connection struct {
	dest   t.Rank
	addr   string
	queueC chan outbound
}

// NewGrpcTransport returns a new transport for the daemon ownID.
// The returned GrpcTransport does not accept buffers until Start is called.
// Connections to other daemons are opened on first use.
func NewGrpcTransport(membership map[t.Rank]string, ownID t.Rank, l logging.Logger) *GrpcTransport {

	// If no logger was given, only write errors to the console.
	if l == nil {
		l = logging.ConsoleErrorLogger
	}

	return &GrpcTransport{
		ownID:            ownID,
		membership:       membership,
		incomingMessages: make(chan modules.ReceivedMessage),
		connections:      make(map[t.Rank]*connection),
		doneC:            make(chan struct{}),
		logger:           l,
	}
}

// Send queues data for sending to dest. done is invoked from another goroutine
// once the buffer has been written to the stream or could not be.
func (gt *GrpcTransport) Send(dest t.Rank, data []byte, done func(error)) {
	conn, err := gt.connection(dest)
	if err != nil {
		done(err)
		return
	}

	select {
	case conn.queueC <- outbound{data: data, done: done}:
	default:
		done(errors.WithMessagef(ErrQueueFull, "toward %d", dest))
	}
}

// ReceiveChan returns the channel to which all received buffers are written, along with their sender.
func (gt *GrpcTransport) ReceiveChan() <-chan modules.ReceivedMessage {
	return gt.incomingMessages
}

func (gt *GrpcTransport) connection(dest t.Rank) (*connection, error) {
	gt.connMutex.Lock()
	defer gt.connMutex.Unlock()

	if conn, ok := gt.connections[dest]; ok {
		return conn, nil
	}

	addr, ok := gt.membership[dest]
	if !ok {
		return nil, errors.Errorf("no address for daemon %d", dest)
	}

	conn := &connection{
		dest:   dest,
		addr:   addr,
		queueC: make(chan outbound, queueSize),
	}
	gt.connections[dest] = conn
	gt.waitGroup.Add(1)
	go gt.serve(conn)
	return conn, nil
}

// serve writes the buffers queued for one daemon, reconnecting after errors.
func (gt *GrpcTransport) serve(conn *connection) {
	defer gt.waitGroup.Done()

	var (
		cc     *grpc.ClientConn
		stream grpc.ClientStream
	)

	closeStream := func() {
		if stream != nil {
			if err := stream.CloseSend(); err != nil {
				gt.logger.Log(logging.LevelDebug, "Could not close stream.", "dest", conn.dest, "err", err)
			}
			stream = nil
		}
		if cc != nil {
			if err := cc.Close(); err != nil {
				gt.logger.Log(logging.LevelWarn, "Failed to close connection.", "dest", conn.dest, "err", err)
			}
			cc = nil
		}
	}
	defer closeStream()

	for {
		var msg outbound
		select {
		case msg = <-conn.queueC:
		case <-gt.doneC:
			return
		}

		if stream == nil {
			var err error
			if cc, stream, err = gt.connectToNode(conn.dest, conn.addr); err != nil {
				gt.logger.Log(logging.LevelWarn, "Failed to connect.", "dest", conn.dest, "addr", conn.addr, "err", err)
				closeStream()
				msg.done(err)
				continue
			}
		}

		if err := stream.SendMsg(&wrapperspb.BytesValue{Value: msg.data}); err != nil {
			gt.logger.Log(logging.LevelWarn, "Failed to send.", "dest", conn.dest, "err", err)
			closeStream()
			msg.done(err)
			continue
		}
		msg.done(nil)
	}
}

// connectToNode opens a client stream to the daemon dest.
func (gt *GrpcTransport) connectToNode(dest t.Rank, addr string) (*grpc.ClientConn, grpc.ClientStream, error) {
	gt.logger.Log(logging.LevelDebug, "Connecting to daemon.", "dest", dest, "addr", addr)

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	cc, err := grpc.DialContext(dialCtx, addr,
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)),
		grpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "could not dial %s", addr)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), senderKey, strconv.FormatUint(uint64(gt.ownID), 10))
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/Listen")
	if err != nil {
		if cerr := cc.Close(); cerr != nil {
			gt.logger.Log(logging.LevelWarn, "Failed to close connection.", "err", cerr)
		}
		return nil, nil, errors.WithMessage(err, "could not open stream")
	}
	return cc, stream, nil
}

// Listen serves the stream opened by one other daemon.
// Every frame is written to the channel returned by ReceiveChan.
func (gt *GrpcTransport) Listen(stream grpc.ServerStream) error {
	sender, err := senderOf(stream.Context())
	if err != nil {
		return err
	}

	if p, ok := peer.FromContext(stream.Context()); ok {
		gt.logger.Log(logging.LevelDebug, "Incoming connection.", "sender", sender, "addr", p.Addr.String())
	}

	for {
		frame := &wrapperspb.BytesValue{}
		if err = stream.RecvMsg(frame); err != nil {
			break
		}

		select {
		case gt.incomingMessages <- modules.ReceivedMessage{Sender: sender, Data: frame.Value}:
		case <-gt.doneC:
			return nil
		}
	}

	gt.logger.Log(logging.LevelDebug, "Connection terminated.", "sender", sender, "err", err)
	return stream.SendMsg(&emptypb.Empty{})
}

func senderOf(ctx context.Context) (t.Rank, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return t.RankInvalid, errors.New("missing stream metadata")
	}
	values := md.Get(senderKey)
	if len(values) != 1 {
		return t.RankInvalid, errors.Errorf("expected one %s header, got %d", senderKey, len(values))
	}
	rank, err := strconv.ParseUint(values[0], 10, 32)
	if err != nil {
		return t.RankInvalid, errors.WithMessagef(err, "bad %s header", senderKey)
	}
	return t.Rank(rank), nil
}

// Start starts the gRPC server, listening on the address of the own rank in the membership.
func (gt *GrpcTransport) Start() error {
	addr, ok := gt.membership[gt.ownID]
	if !ok {
		return errors.Errorf("no address for own rank %d", gt.ownID)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithMessagef(err, "failed to listen for connections on %s", addr)
	}
	gt.listener = listener
	gt.logger.Log(logging.LevelInfo, fmt.Sprintf("Listening for connections on %s", listener.Addr()))

	gt.grpcServer = grpc.NewServer(grpc.MaxRecvMsgSize(maxMessageSize))
	gt.grpcServer.RegisterService(&serviceDesc, gt)

	// When the server stops, it will write its exit error into gt.grpcServerError.
	gt.waitGroup.Add(1)
	go func() {
		defer gt.waitGroup.Done()
		gt.grpcServerError = gt.grpcServer.Serve(listener)
	}()
	return nil
}

// Stop closes all connections and stops the gRPC server.
// After Stop returns, the error returned by the server can be obtained through ServerError.
func (gt *GrpcTransport) Stop() {
	close(gt.doneC)
	if gt.grpcServer != nil {
		gt.grpcServer.Stop()
	}
	gt.waitGroup.Wait()
	gt.logger.Log(logging.LevelDebug, "GrpcTransport stopped.")
}

// ServerError returns the error returned by the gRPC server's Serve() call.
// It must not be called before Stop returned.
func (gt *GrpcTransport) ServerError() error {
	return gt.grpcServerError
}
