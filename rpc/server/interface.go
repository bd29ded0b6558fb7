package server

import (
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter translates the requests of one service into calls of the
// component it wraps and the results back into a response.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// Errors are never returned, they are set in the response.
	Handle(req *common.Message) (resp *common.Message)
}
