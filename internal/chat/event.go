package chat

import "encoding/json"

// Event wraps a public record published to other relay instances. Data is
// the exact frame every instance writes to its local connections.
type Event struct {
	Origin string          `json:"origin"` // SERVER_NAME of the publisher
	Data   json.RawMessage `json:"data"`
	Ts     int64           `json:"ts"`
}
