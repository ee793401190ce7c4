package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPhone(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantPhone string
		wantFound bool
	}{
		{
			name:      "plus seven plain",
			text:      "мой номер +79991234567",
			wantPhone: "+79991234567",
			wantFound: true,
		},
		{
			name:      "eight plain",
			text:      "звоните 89991234567",
			wantPhone: "89991234567",
			wantFound: true,
		},
		{
			name:      "parentheses and spaces",
			text:      "тел +7 (999) 123 45 67, жду",
			wantPhone: "+7 (999) 123 45 67",
			wantFound: true,
		},
		{
			name:      "dashes",
			text:      "8-999-123-45-67",
			wantPhone: "8-999-123-45-67",
			wantFound: true,
		},
		{
			name:      "embedded in sentence",
			text:      "Хочу тур в Анталию, мой номер +79991234567",
			wantPhone: "+79991234567",
			wantFound: true,
		},
		{
			name:      "no phone",
			text:      "хочу тур в Турцию на двоих",
			wantFound: false,
		},
		{
			name:      "too short",
			text:      "код 1234567",
			wantFound: false,
		},
		{
			name:      "empty",
			text:      "",
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phone, found := ExtractPhone(tt.text)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantPhone, phone)
			}
		})
	}
}

func TestStripHumanRequest(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantText   string
		wantMarker bool
	}{
		{
			name:       "marker at end",
			text:       "Сейчас позову менеджера. " + HumanRequestMarker,
			wantText:   "Сейчас позову менеджера.",
			wantMarker: true,
		},
		{
			name:       "marker in middle",
			text:       "Передаю " + HumanRequestMarker + " коллеге",
			wantText:   "Передаю коллеге",
			wantMarker: true,
		},
		{
			name:       "marker only",
			text:       HumanRequestMarker,
			wantText:   "",
			wantMarker: true,
		},
		{
			name:       "no marker",
			text:       "Вот варианты туров на июнь.",
			wantText:   "Вот варианты туров на июнь.",
			wantMarker: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, found := StripHumanRequest(tt.text)
			assert.Equal(t, tt.wantMarker, found)
			assert.Equal(t, tt.wantText, text)
			assert.NotContains(t, text, HumanRequestMarker)
		})
	}
}
