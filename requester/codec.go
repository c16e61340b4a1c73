package requester

import "encoding/json"

func encodeCallback(cb Callback) ([]byte, error) { return json.Marshal(cb) }

func decodeCallback(b []byte) (Callback, error) {
	var cb Callback
	var err = json.Unmarshal(b, &cb)
	return cb, err
}

func encodeNotification(v interface{}) ([]byte, error) { return json.Marshal(v) }
