package apitable

import (
	"encoding/json"
	"fmt"

	"github.com/bturcanu/openclause-apitable/pkg/connectors"
)

// Message is the connector envelope's result type; the dispatcher fills it
// directly.
type Message = connectors.Message

var (
	JSONMessage = connectors.JSONMessage
	TextMessage = connectors.TextMessage
)

// responseMessage normalizes an APITable response body.
func responseMessage(status int, body []byte) Message {
	if json.Valid(body) {
		return JSONMessage(json.RawMessage(body))
	}
	return TextMessage(fmt.Sprintf("Status: %d\nResponse: %s", status, body))
}
