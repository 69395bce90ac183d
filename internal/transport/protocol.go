package transport

import (
	"encoding/json"

	planner "github.com/graphgate/graphgate/internal/planner"
)

// graphql-transport-ws subprotocol frames, shared by the upstream client
// controller and the gateway's own websocket endpoint.
const (
	WSProtocol = "graphql-transport-ws"

	MessageConnectionInit = "connection_init"
	MessageConnectionAck  = "connection_ack"
	MessageSubscribe      = "subscribe"
	MessageNext           = "next"
	MessageError          = "error"
	MessageComplete       = "complete"
	MessagePing           = "ping"
	MessagePong           = "pong"
)

// Message is one graphql-transport-ws frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func SubscribeMessage(id string, req *planner.Request) (*Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Type: MessageSubscribe, Payload: payload}, nil
}

func NextMessage(id string, resp *planner.Response) (*Message, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Type: MessageNext, Payload: payload}, nil
}

func ErrorMessage(id string, errs []*planner.ServerError) (*Message, error) {
	payload, err := json.Marshal(errs)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Type: MessageError, Payload: payload}, nil
}
