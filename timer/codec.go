package timer

import "encoding/json"

func encodeFire(f Fire) ([]byte, error) { return json.Marshal(f) }

func decodeFire(b []byte) (Fire, error) {
	var f Fire
	var err = json.Unmarshal(b, &f)
	return f, err
}
