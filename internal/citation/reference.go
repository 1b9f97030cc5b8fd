// Package citation 解析正文中的 ~~n== 引用标记, 对照每条消息的引用切片表。
package citation

// Chunk 检索切片。
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ImageID    string `json:"image_id,omitempty"`
}

// DocAgg 切片所属文档的聚合信息。
type DocAgg struct {
	DocID   string `json:"doc_id"`
	DocName string `json:"doc_name"`
	URL     string `json:"url,omitempty"`
}

// ReferenceTable 单条助手消息的引用表, 标记 ~~n== 的 n 是 Chunks 的下标。
type ReferenceTable struct {
	Chunks  []Chunk  `json:"chunks"`
	DocAggs []DocAgg `json:"doc_aggs"`
}

// Len 切片数量, nil 安全。
func (t *ReferenceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Chunks)
}

// Chunk 按下标取切片, 越界返回 false。
func (t *ReferenceTable) Chunk(index int) (Chunk, bool) {
	if t == nil || index < 0 || index >= len(t.Chunks) {
		return Chunk{}, false
	}
	return t.Chunks[index], true
}

// Doc 按 DocumentID 查找文档聚合信息。
func (t *ReferenceTable) Doc(documentID string) (DocAgg, bool) {
	if t == nil || documentID == "" {
		return DocAgg{}, false
	}
	for _, d := range t.DocAggs {
		if d.DocID == documentID {
			return d, true
		}
	}
	return DocAgg{}, false
}

// Clone 深拷贝。
func (t *ReferenceTable) Clone() *ReferenceTable {
	if t == nil {
		return nil
	}
	out := &ReferenceTable{}
	if t.Chunks != nil {
		out.Chunks = append([]Chunk(nil), t.Chunks...)
	}
	if t.DocAggs != nil {
		out.DocAggs = append([]DocAgg(nil), t.DocAggs...)
	}
	return out
}

// Equal 逐项比较, 用于快照去重。
func (t *ReferenceTable) Equal(o *ReferenceTable) bool {
	if t == nil || o == nil {
		return t == nil && o == nil
	}
	if len(t.Chunks) != len(o.Chunks) || len(t.DocAggs) != len(o.DocAggs) {
		return false
	}
	for i := range t.Chunks {
		if t.Chunks[i] != o.Chunks[i] {
			return false
		}
	}
	for i := range t.DocAggs {
		if t.DocAggs[i] != o.DocAggs[i] {
			return false
		}
	}
	return true
}
