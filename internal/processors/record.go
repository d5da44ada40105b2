package processors

// Record is one survey response: an identifier plus free-form answer
// fields keyed by question name.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Clone returns a deep-enough copy for transformation: the field map is
// copied, values are shared.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}

func asRecord(item any) (Record, bool) {
	switch v := item.(type) {
	case Record:
		return v, true
	case *Record:
		if v == nil {
			return Record{}, false
		}
		return *v, true
	}
	return Record{}, false
}
