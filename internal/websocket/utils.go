package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMalformed is returned by ReadEnvelope for a frame that is not a JSON object.
// The connection is still usable.
var ErrMalformed = errors.New("malformed message")

const (
	writeWait  = 10 * time.Second
	readWait   = 5 * time.Minute
	maxMessage = 256 << 10
)

// Prepare applies the read limit and deadline shared by every session socket.
func Prepare(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers serialise writes; gorilla connections allow one concurrent writer.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string, retryable bool) error {
	return WriteTyped(conn, ErrorResponse{
		Event:     EventError,
		Code:      code,
		Error:     errMsg,
		Retryable: retryable,
	})
}

// ReadEnvelope reads one message and peeks at its action. The raw frame is
// kept on the envelope for Decode.
func ReadEnvelope(conn *websocket.Conn) (RequestEnvelope, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return RequestEnvelope{}, err
	}
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RequestEnvelope{Raw: data}, ErrMalformed
	}
	env.Raw = data
	return env, nil
}

// Decode parses the envelope's raw frame into v.
func (e RequestEnvelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}
