package label

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		feedback string
		path     string
		want     string
		wantOK   bool
	}{
		{
			name:     "country code",
			feedback: `{"_original": {"country": {"code3": "DEU", "name": "Germany"}}}`,
			want:     "DEU",
			wantOK:   true,
		},
		{
			name:     "value kept verbatim",
			feedback: `{"_original": {"country": {"code3": "D<<"}}}`,
			want:     "D<<",
			wantOK:   true,
		},
		{
			name:     "custom path",
			feedback: `{"corrected": {"country": "NLD"}}`,
			path:     "corrected.country",
			want:     "NLD",
			wantOK:   true,
		},
		{
			name:     "missing original",
			feedback: `{"country": {"code3": "DEU"}}`,
		},
		{
			name:     "missing code3",
			feedback: `{"_original": {"country": {}}}`,
		},
		{
			name:     "null code",
			feedback: `{"_original": {"country": {"code3": null}}}`,
		},
		{
			name:     "numeric code",
			feedback: `{"_original": {"country": {"code3": 276}}}`,
		},
		{
			name:     "empty code",
			feedback: `{"_original": {"country": {"code3": ""}}}`,
		},
		{
			name:     "invalid json",
			feedback: `{"_original": `,
		},
		{
			name:     "empty feedback",
			feedback: ``,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract([]byte(tc.feedback), tc.path)
			if ok != tc.wantOK {
				t.Fatalf("Extract() ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("Extract() = %q, want %q", got, tc.want)
			}
		})
	}
}
