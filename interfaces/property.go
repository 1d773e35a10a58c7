package interfaces

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PropertyKind declares the runtime type of a property value.
type PropertyKind int

const (
	PropertyKindInt PropertyKind = iota
	PropertyKindDouble
	PropertyKindString
	PropertyKindTime
	PropertyKindUUID
)

// String returns the kind name.
func (k PropertyKind) String() string {
	switch k {
	case PropertyKindInt:
		return "int"
	case PropertyKindDouble:
		return "double"
	case PropertyKindString:
		return "string"
	case PropertyKindTime:
		return "time"
	case PropertyKindUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// PropertyKindFromString parses a kind name as used on the wire.
func PropertyKindFromString(s string) (PropertyKind, error) {
	switch s {
	case "int":
		return PropertyKindInt, nil
	case "double":
		return PropertyKindDouble, nil
	case "string":
		return PropertyKindString, nil
	case "time":
		return PropertyKindTime, nil
	case "uuid":
		return PropertyKindUUID, nil
	default:
		return 0, fmt.Errorf("unknown property kind: %s", s)
	}
}

// MarshalJSON renders the kind by name.
func (k PropertyKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses the kind name.
func (k *PropertyKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	kind, err := PropertyKindFromString(name)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// PropertyValue is an explicit tagged variant over the supported property
// kinds. Exactly the field matching Kind is meaningful.
type PropertyValue struct {
	Kind PropertyKind

	Int    int64
	Double float64
	Str    string
	Time   time.Time
	UUID   uuid.UUID
}

func IntProperty(v int64) PropertyValue { return PropertyValue{Kind: PropertyKindInt, Int: v} }
func DoubleProperty(v float64) PropertyValue {
	return PropertyValue{Kind: PropertyKindDouble, Double: v}
}
func StringProperty(v string) PropertyValue { return PropertyValue{Kind: PropertyKindString, Str: v} }
func TimeProperty(v time.Time) PropertyValue {
	return PropertyValue{Kind: PropertyKindTime, Time: v}
}
func UUIDProperty(v uuid.UUID) PropertyValue {
	return PropertyValue{Kind: PropertyKindUUID, UUID: v}
}

// CheckKind validates the value against a declared kind. A mismatch is the
// typed ErrPropertyKindMismatch, not a generic failure.
func (v PropertyValue) CheckKind(declared PropertyKind) error {
	if v.Kind != declared {
		return ErrPropertyKindMismatch
	}
	return nil
}

type propertyValueJSON struct {
	Kind   string     `json:"kind"`
	Int    *int64     `json:"int,omitempty"`
	Double *float64   `json:"double,omitempty"`
	Str    *string    `json:"string,omitempty"`
	Time   *time.Time `json:"time,omitempty"`
	UUID   *string    `json:"uuid,omitempty"`
}

// MarshalJSON renders the variant with an explicit kind tag.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	out := propertyValueJSON{Kind: v.Kind.String()}
	switch v.Kind {
	case PropertyKindInt:
		out.Int = &v.Int
	case PropertyKindDouble:
		out.Double = &v.Double
	case PropertyKindString:
		out.Str = &v.Str
	case PropertyKindTime:
		out.Time = &v.Time
	case PropertyKindUUID:
		s := v.UUID.String()
		out.UUID = &s
	default:
		return nil, fmt.Errorf("cannot marshal property of kind %d", v.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the tagged variant form.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var in propertyValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	kind, err := PropertyKindFromString(in.Kind)
	if err != nil {
		return err
	}

	*v = PropertyValue{Kind: kind}
	switch kind {
	case PropertyKindInt:
		if in.Int == nil {
			return fmt.Errorf("property kind int without int value")
		}
		v.Int = *in.Int
	case PropertyKindDouble:
		if in.Double == nil {
			return fmt.Errorf("property kind double without double value")
		}
		v.Double = *in.Double
	case PropertyKindString:
		if in.Str == nil {
			return fmt.Errorf("property kind string without string value")
		}
		v.Str = *in.Str
	case PropertyKindTime:
		if in.Time == nil {
			return fmt.Errorf("property kind time without time value")
		}
		v.Time = *in.Time
	case PropertyKindUUID:
		if in.UUID == nil {
			return fmt.Errorf("property kind uuid without uuid value")
		}
		id, err := uuid.Parse(*in.UUID)
		if err != nil {
			return fmt.Errorf("invalid uuid property: %w", err)
		}
		v.UUID = id
	}
	return nil
}
