package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// LabelKind tells a single-choice label apart from a multi-choice one
type LabelKind int

const (
	LabelNone LabelKind = iota
	LabelSingle
	LabelMulti
)

func (k LabelKind) String() string {
	switch k {
	case LabelSingle:
		return "single"
	case LabelMulti:
		return "multi"
	default:
		return "none"
	}
}

// Label is the value a worker assigns to an item: one label id for
// single-select datasets, an ordered set of label ids for multi-select ones.
// The zero value is not a valid label.
type Label struct {
	kind LabelKind
	ids  []int64
}

// SingleLabel builds a single-choice label
func SingleLabel(id int64) Label {
	return Label{kind: LabelSingle, ids: []int64{id}}
}

// MultiLabel builds a multi-choice label keeping the given order
func MultiLabel(ids ...int64) Label {
	return Label{kind: LabelMulti, ids: slices.Clone(ids)}
}

func (l Label) Kind() LabelKind {
	return l.kind
}

func (l Label) IsMulti() bool {
	return l.kind == LabelMulti
}

// ID returns the label id of a single-choice label
func (l Label) ID() (int64, bool) {
	if l.kind != LabelSingle {
		return 0, false
	}
	return l.ids[0], true
}

// IDs returns a copy of the label ids, in order
func (l Label) IDs() []int64 {
	return slices.Clone(l.ids)
}

// Validate rejects zero labels and multi labels that are empty or repeat an id
func (l Label) Validate() error {
	switch l.kind {
	case LabelSingle:
		if len(l.ids) != 1 {
			return InvalidArgument("single label must carry exactly one id")
		}
		return nil
	case LabelMulti:
		if len(l.ids) == 0 {
			return InvalidArgument("multi label must carry at least one id")
		}
		seen := make(map[int64]struct{}, len(l.ids))
		for _, id := range l.ids {
			if _, ok := seen[id]; ok {
				return InvalidArgument("multi label repeats id %d", id)
			}
			seen[id] = struct{}{}
		}
		return nil
	default:
		return InvalidArgument("label is missing")
	}
}

func (l Label) Equal(other Label) bool {
	return l.kind == other.kind && slices.Equal(l.ids, other.ids)
}

func (l Label) String() string {
	switch l.kind {
	case LabelSingle:
		return fmt.Sprintf("%d", l.ids[0])
	case LabelMulti:
		return fmt.Sprintf("%v", l.ids)
	default:
		return "<none>"
	}
}

// MarshalJSON writes a number for single labels and an array for multi labels
func (l Label) MarshalJSON() ([]byte, error) {
	switch l.kind {
	case LabelSingle:
		return json.Marshal(l.ids[0])
	case LabelMulti:
		return json.Marshal(l.ids)
	default:
		return []byte("null"), nil
	}
}

func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = Label{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return fmt.Errorf("while decoding multi label: %w", err)
		}
		*l = MultiLabel(ids...)
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("while decoding label: %w", err)
	}
	*l = SingleLabel(id)
	return nil
}

// EncodeColumns maps a label onto the label_id / label_ids storage columns.
// Exactly one of the two returned values is non-nil.
func (l Label) EncodeColumns() (labelID *int64, labelIDs *string, err error) {
	if err := l.Validate(); err != nil {
		return nil, nil, err
	}
	if l.kind == LabelSingle {
		id := l.ids[0]
		return &id, nil, nil
	}
	raw, err := json.Marshal(l.ids)
	if err != nil {
		return nil, nil, err
	}
	s := string(raw)
	return nil, &s, nil
}

// DecodeLabelColumns is the inverse of EncodeColumns
func DecodeLabelColumns(labelID *int64, labelIDs *string) (Label, error) {
	switch {
	case labelID != nil && labelIDs == nil:
		return SingleLabel(*labelID), nil
	case labelID == nil && labelIDs != nil:
		var ids []int64
		if err := json.Unmarshal([]byte(*labelIDs), &ids); err != nil {
			return Label{}, fmt.Errorf("while decoding stored label_ids %q: %w", *labelIDs, err)
		}
		return MultiLabel(ids...), nil
	default:
		return Label{}, fmt.Errorf("stored record must have exactly one of label_id and label_ids")
	}
}
