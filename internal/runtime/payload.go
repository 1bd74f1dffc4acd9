package runtime

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
)

// Producer builds a payload lazily, at the moment the owner submits it.
type Producer interface {
	Produce() ([]byte, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func() ([]byte, error)

func (f ProducerFunc) Produce() ([]byte, error) { return f() }

// JSONPayload marshals Value with the sonic-backed codec when submitted.
type JSONPayload struct {
	Value any
}

// JSON wraps v so Request sends its JSON encoding.
func JSON(v any) JSONPayload {
	return JSONPayload{Value: v}
}

// resolvePayload turns a Request payload into raw bytes. Accepted forms:
// []byte, string, func() []byte, func() ([]byte, error), Producer,
// proto.Message and JSONPayload.
func resolvePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case func() []byte:
		return v(), nil
	case func() ([]byte, error):
		return producedBytes(ProducerFunc(v))
	case Producer:
		return producedBytes(v)
	case proto.Message:
		raw, err := proto.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal proto payload %T: %w", v, err)
		}
		return raw, nil
	case JSONPayload:
		raw, err := jsoncodec.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal json payload %T: %w", v.Value, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %T", errspkg.ErrUnsupportedPayload, payload)
	}
}

func producedBytes(p Producer) ([]byte, error) {
	raw, err := p.Produce()
	if err != nil {
		return nil, fmt.Errorf("produce payload: %w", err)
	}
	return raw, nil
}

// UnmarshalProto decodes a delivered payload into msg.
func UnmarshalProto(payload []byte, msg proto.Message) error {
	if err := proto.Unmarshal(payload, msg); err != nil {
		return fmt.Errorf("unmarshal proto payload into %T: %w", msg, err)
	}
	return nil
}

// UnmarshalJSON decodes a delivered payload into v.
func UnmarshalJSON(payload []byte, v any) error {
	if err := jsoncodec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal json payload into %T: %w", v, err)
	}
	return nil
}
