package lanes

import (
	"encoding/json"

	"github.com/morezero/jsonrpc2/pkg/protocol"
)

func rawPositional(values ...string) protocol.Params {
	raw := make([]json.RawMessage, len(values))
	for i, v := range values {
		raw[i] = json.RawMessage(v)
	}
	return protocol.Params{Kind: protocol.ParamsPositional, Positional: raw}
}
