package vectorstore

import "testing"

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid standard", "report_sources", true},
		{"Valid with numbers", "sources2024", true},
		{"Valid short", "s", true},
		{"Invalid start with number", "2024sources", false},
		{"Invalid hyphen", "report-sources", false},
		{"Invalid space", "report sources", false},
		{"Invalid SQL injection", "sources; DROP TABLE report_sources", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789__", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidTableName(tt.input); got != tt.expected {
				t.Errorf("isValidTableName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildMetadataQuery(t *testing.T) {
	vs := &PGVectorStore{}

	tests := []struct {
		name          string
		filter        map[string]interface{}
		wantQuery     string
		wantArgsCount int
		wantErr       bool
	}{
		{
			name:          "Empty filter",
			filter:        map[string]interface{}{},
			wantQuery:     "TRUE",
			wantArgsCount: 0,
		},
		{
			name:          "Source equality",
			filter:        map[string]interface{}{"source": "https://a.example/page"},
			wantQuery:     "metadata @> $1",
			wantArgsCount: 1,
		},
		{
			name: "$and of source and report id",
			filter: map[string]interface{}{
				"$and": []interface{}{
					map[string]interface{}{"source": "https://a.example"},
					map[string]interface{}{"report_id": "r1"},
				},
			},
			wantQuery:     "((metadata @> $1) AND (metadata @> $2))",
			wantArgsCount: 2,
		},
		{
			name: "$not excludes one source",
			filter: map[string]interface{}{
				"$not": map[string]interface{}{"source": "https://stale.example"},
			},
			wantQuery:     "NOT (metadata @> $1)",
			wantArgsCount: 1,
		},
		{
			name: "Nested $or with $and",
			filter: map[string]interface{}{
				"$or": []interface{}{
					map[string]interface{}{"report_id": "r1"},
					map[string]interface{}{
						"$and": []interface{}{
							map[string]interface{}{"report_id": "r2"},
							map[string]interface{}{"source": "https://b.example"},
						},
					},
				},
			},
			wantQuery:     "((metadata @> $1) OR (((metadata @> $2) AND (metadata @> $3))))",
			wantArgsCount: 3,
		},
		{
			name:    "Error: $or not a list",
			filter:  map[string]interface{}{"$or": "invalid"},
			wantErr: true,
		},
		{
			name: "Error: $and item not an object",
			filter: map[string]interface{}{
				"$and": []interface{}{"invalid"},
			},
			wantErr: true,
		},
		{
			name:          "Empty operator list ignored",
			filter:        map[string]interface{}{"$or": []interface{}{}},
			wantQuery:     "TRUE",
			wantArgsCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []interface{}
			gotQuery, err := vs.buildMetadataQuery(tt.filter, &args)
			if (err != nil) != tt.wantErr {
				t.Errorf("buildMetadataQuery() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("buildMetadataQuery() query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if len(args) != tt.wantArgsCount {
				t.Errorf("buildMetadataQuery() args count = %d, want %d", len(args), tt.wantArgsCount)
			}
		})
	}
}
