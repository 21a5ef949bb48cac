package jsonrepair

import "encoding/json"

// Parse repairs text and returns the decoded value.
func Parse(text string) (any, error) {
	repaired, err := Repair(text)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal([]byte(repaired), &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Unmarshal repairs text and decodes it into v.
func Unmarshal(text string, v any) error {
	repaired, err := Repair(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}

// Repair returns the repaired JSON text without decoding it.
func Repair(text string) (string, error) {
	p := &parser{chars: []rune(text)}
	return p.repair()
}
