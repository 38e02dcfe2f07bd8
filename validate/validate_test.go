package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/feedpulse/model"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.FeedType
		payload map[string]any
		wantErr bool
	}{
		{
			name:    "traffic valid",
			typ:     model.FeedTypeTraffic,
			payload: map[string]any{"speed": 42.0, "location": "main st"},
		},
		{
			name:    "traffic negative speed",
			typ:     model.FeedTypeTraffic,
			payload: map[string]any{"speed": -1.0, "location": "main st"},
			wantErr: true,
		},
		{
			name:    "traffic missing location",
			typ:     model.FeedTypeTraffic,
			payload: map[string]any{"speed": 42.0},
			wantErr: true,
		},
		{
			name:    "traffic speed wrong type",
			typ:     model.FeedTypeTraffic,
			payload: map[string]any{"speed": "fast", "location": "main st"},
			wantErr: true,
		},
		{
			name:    "weather valid",
			typ:     model.FeedTypeWeather,
			payload: map[string]any{"temp": -4.5, "condition": "snow"},
		},
		{
			name:    "weather empty condition",
			typ:     model.FeedTypeWeather,
			payload: map[string]any{"temp": 20.0, "condition": ""},
			wantErr: true,
		},
		{
			name:    "public safety valid",
			typ:     model.FeedTypePublicSafety,
			payload: map[string]any{"event": "collision", "unit": "engine-7"},
		},
		{
			name:    "public safety missing unit",
			typ:     model.FeedTypePublicSafety,
			payload: map[string]any{"event": "collision"},
			wantErr: true,
		},
		{
			name:    "infrastructure valid",
			typ:     model.FeedTypeInfrastructure,
			payload: map[string]any{"status": "outage", "affected": 120.0},
		},
		{
			name:    "infrastructure negative affected",
			typ:     model.FeedTypeInfrastructure,
			payload: map[string]any{"status": "outage", "affected": -3.0},
			wantErr: true,
		},
		{
			name:    "unknown type",
			typ:     "Bogus",
			payload: map[string]any{"anything": 1.0},
			wantErr: true,
		},
		{
			name:    "nil payload",
			typ:     model.FeedTypeTraffic,
			payload: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Payload(tt.typ, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)

				var ve *Error
				assert.ErrorAs(t, err, &ve)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
