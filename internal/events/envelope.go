package events

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Meta — служебная часть конверта. trace_id используется для дедупликации,
// его отсутствие означает "обрабатывать всегда".
type Meta struct {
	TraceID  string
	Producer string
}

// Envelope — входящий конверт события. Продюсеры разных поколений шлют
// разные обёртки, поэтому поля достаём вручную из произвольного JSON.
type Envelope struct {
	ID     string
	Type   string
	Source string
	Data   map[string]any
	Meta   Meta
	Raw    json.RawMessage
}

// Decode разбирает тело сообщения. Ошибку возвращает только если тело —
// не JSON вовсе (транспортная ошибка, сообщение уйдёт в reject). Если тело —
// JSON-строка, пробуем распаковать её ровно один раз; не вышло — пустой конверт.
func Decode(body []byte) (*Envelope, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			inner = map[string]any{}
		}
		v = inner
	}

	obj, ok := v.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}

	env := &Envelope{Raw: body}
	env.ID = asString(obj["id"])
	env.Source = asString(obj["source"])

	// routing key может приехать и как type, и как event
	env.Type = asString(obj["type"])
	if env.Type == "" {
		env.Type = asString(obj["event"])
	}

	// data может отсутствовать — тогда полезная нагрузка лежит в корне
	if d, ok := obj["data"].(map[string]any); ok {
		env.Data = d
	} else {
		env.Data = obj
	}

	if m, ok := obj["meta"].(map[string]any); ok {
		env.Meta.TraceID = asString(m["trace_id"])
		env.Meta.Producer = asString(m["producer"])
	}

	return env, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}
