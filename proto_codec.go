package styx

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoSerializer encodes values as a protobuf google.protobuf.Value. It is
// denser than TextSerializer and is the default for blobs in a mapped
// store.
type ProtoSerializer struct{}

func (ProtoSerializer) Serialize(v Value) ([]byte, error) {
	p, err := toPlain(v)
	if err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	b, err := proto.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

func (ProtoSerializer) Deserialize(b []byte) (Value, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if pv.GetKind() == nil {
		return nil, fmt.Errorf("%w: empty protobuf value", ErrMalformed)
	}
	return fromPlain(pv.AsInterface())
}
