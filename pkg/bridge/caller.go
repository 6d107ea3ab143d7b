package bridge

import "context"

// Caller invokes one named MCP tool and returns its raw envelope. This is
// the seam the Bridge is polymorphic over (spec's "bridge is polymorphic
// over the tool set" design note): production wires an MCP transport
// (see transport.go), tests wire a fake.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (Envelope, error)
}
