package processor

import "encoding/json"

func jsonUnmarshalTopics(raw string, out *[]string) error {
	return json.Unmarshal([]byte(raw), out)
}
