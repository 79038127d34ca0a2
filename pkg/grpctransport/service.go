/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpctransport

import (
	"google.golang.org/grpc"
)

const serviceName = "relm.Transport"

// transportServer is the server API of the transport service.
// The only method is a client stream of google.protobuf.BytesValue frames,
// answered with a single google.protobuf.Empty when the client closes the stream.
type transportServer interface {
	Listen(stream grpc.ServerStream) error
}

func listenHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(transportServer).Listen(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Listen",
			Handler:       listenHandler,
			ClientStreams: true,
		},
	},
	Metadata: "relm/transport.proto",
}
