package part

import "encoding/json"

// ToFragment Classify 的逆操作, 用于持久化与对外输出。
func ToFragment(p Part) Fragment {
	switch v := p.(type) {
	case TitlePart:
		return Fragment{Type: "title", Content: encodeString(v.Text)}
	case ContentPart:
		return Fragment{Type: "content", Content: encodeString(v.Text)}
	case ToolCallPart:
		payload := map[string]any{"tool_name": v.ToolName}
		if v.Result.Failed() {
			payload["result"] = map[string]string{"error": v.Result.Err}
		} else {
			hits := v.Result.Hits
			if hits == nil {
				hits = []Hit{}
			}
			payload["result"] = hits
		}
		data, _ := json.Marshal(payload)
		return Fragment{Type: "tool_call", Content: data}
	case ReportPart:
		return Fragment{Type: "report", Content: encodeString(v.Text)}
	case ResultPart:
		return Fragment{Type: "result", Content: encodeString(v.Text)}
	case PlanPart:
		return Fragment{Type: "content_plan", Content: encodeString(v.Text)}
	default:
		return Fragment{Type: "content", Content: encodeString("")}
	}
}

// ToFragments 批量转换。
func ToFragments(parts []Part) []Fragment {
	out := make([]Fragment, 0, len(parts))
	for _, p := range parts {
		out = append(out, ToFragment(p))
	}
	return out
}

// MarshalParts 编码为 Fragment 数组 JSON。
func MarshalParts(parts []Part) ([]byte, error) {
	return json.Marshal(ToFragments(parts))
}

// UnmarshalParts 解码 Fragment 数组 JSON 并分类。
func UnmarshalParts(data []byte) ([]Part, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var fragments []Fragment
	if err := json.Unmarshal(data, &fragments); err != nil {
		return nil, err
	}
	return ClassifyAll(fragments), nil
}

func encodeString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
