// Package tcp implements the TCP socket transport of the RPC system on top of the
// base package, which provides the framing, connection pooling and request
// routing.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both sides apply the socket options of common.TransportConfig (no delay, keep
// alive, linger, buffer sizes). The default server buffer size is 512 KB.
package tcp
