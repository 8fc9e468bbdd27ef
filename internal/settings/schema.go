package settings

import (
	"fmt"
	"reflect"

	"crm-sla/internal/calendar"
	"crm-sla/internal/urgency"

	"github.com/google/jsonschema-go/jsonschema"
)

// TypeSchemas maps the text-encoded configuration types to their JSON form.
func TypeSchemas() map[reflect.Type]*jsonschema.Schema {
	return map[reflect.Type]*jsonschema.Schema{
		reflect.TypeFor[calendar.Clock](): {
			Type:        "string",
			Pattern:     `^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$|^24:00$`,
			Description: "wall-clock time HH:MM, 24:00 closes the day",
		},
		reflect.TypeFor[calendar.Weekday](): {
			Type:        "integer",
			Minimum:     ptr(0.0),
			Maximum:     ptr(6.0),
			Description: "0 = Monday ... 6 = Sunday",
		},
		reflect.TypeFor[urgency.MatchType](): {
			Type: "string",
			Enum: []any{urgency.MatchSKU.String(), urgency.MatchOfferID.String(), urgency.MatchProductID.String()},
		},
	}
}

// Schema describes the settings document for clients that edit it.
func Schema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[Document](&jsonschema.ForOptions{TypeSchemas: TypeSchemas()})
	if err != nil {
		return nil, fmt.Errorf("failed to derive settings schema: %w", err)
	}
	return schema, nil
}

func ptr[T any](v T) *T { return &v }
