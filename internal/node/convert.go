package node

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"causalog/internal/types"
)

// messageToProto wraps the JSON form of msg for the peer RPC.
func messageToProto(msg types.Message) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return wrapperspb.Bytes(b), nil
}

// protoToMessage unwraps and validates a peer RPC payload.
func protoToMessage(req *wrapperspb.BytesValue) (types.Message, error) {
	if req == nil {
		return types.Message{}, &types.ValidationError{Err: types.ErrMissingField}
	}
	return types.DecodeMessage(req.GetValue())
}
