package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// jsonDuration reads either a duration string such as "300s" or an integer
// count of nanoseconds, matching what the YAML decoder accepts.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
	case float64:
		*d = jsonDuration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = jsonDuration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (c *DirSourceConfig) UnmarshalJSON(b []byte) error {
	type plain DirSourceConfig
	aux := struct {
		*plain
		PollInterval *jsonDuration `json:"poll_interval"`
	}{plain: (*plain)(c), PollInterval: (*jsonDuration)(&c.PollInterval)}
	return json.Unmarshal(b, &aux)
}

func (c *AlertsConfig) UnmarshalJSON(b []byte) error {
	type plain AlertsConfig
	aux := struct {
		*plain
		Cooldown *jsonDuration `json:"cooldown"`
	}{plain: (*plain)(c), Cooldown: (*jsonDuration)(&c.Cooldown)}
	return json.Unmarshal(b, &aux)
}

func (c *PipelineConfig) UnmarshalJSON(b []byte) error {
	type plain PipelineConfig
	aux := struct {
		*plain
		DrainTimeout *jsonDuration `json:"drain_timeout"`
	}{plain: (*plain)(c), DrainTimeout: (*jsonDuration)(&c.DrainTimeout)}
	return json.Unmarshal(b, &aux)
}

func (c *NATSSinkConfig) UnmarshalJSON(b []byte) error {
	type plain NATSSinkConfig
	aux := struct {
		*plain
		ReconnectWait *jsonDuration `json:"reconnect_wait"`
	}{plain: (*plain)(c), ReconnectWait: (*jsonDuration)(&c.ReconnectWait)}
	return json.Unmarshal(b, &aux)
}
