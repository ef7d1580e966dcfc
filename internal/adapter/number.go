package adapter

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Number is a device-reported number. Devices send numbers, numeric strings or null;
// anything unparseable is treated as absent.
type Number struct {
	Value *float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	n.Value = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			n.Value = &f
		}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.Value = &f
	}
	return nil
}

// Text is a device-reported state that is either a plain string or an object with a "text" field.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}

	var obj struct {
		Text  string `json:"text"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	if obj.Text != "" {
		*t = Text(obj.Text)
	} else {
		*t = Text(obj.State)
	}
	return nil
}
