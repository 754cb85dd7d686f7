package control

import "encoding/json"

type resizeFrame struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// EncodeResize renders {"type":"resize","cols":C,"rows":R}.
func EncodeResize(cols, rows int) []byte {
	b, _ := json.Marshal(resizeFrame{Type: TypeResize, Cols: cols, Rows: rows})
	return b
}

// EncodeError renders {"error":"..."}.
func EncodeError(message string) []byte {
	b, _ := json.Marshal(errorFrame{Error: message})
	return b
}

// EncodeSessionInfo renders a session_info frame with the given extra fields.
// A "type" key in fields is overwritten.
func EncodeSessionInfo(fields map[string]any) []byte {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = TypeSessionInfo
	b, err := json.Marshal(out)
	if err != nil {
		return []byte(`{"type":"session_info"}`)
	}
	return b
}
