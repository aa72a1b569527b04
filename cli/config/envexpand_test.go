package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("FTECHO_TEST_SET", "value")
	t.Setenv("FTECHO_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain string untouched", input: "storage_root: /data", want: "storage_root: /data"},
		{name: "set variable", input: "root: ${FTECHO_TEST_SET}", want: "root: value"},
		{name: "unset variable", input: "root: ${FTECHO_TEST_UNSET}", want: "root: "},
		{name: "unset with default", input: "port: ${FTECHO_TEST_UNSET:-9000}", want: "port: 9000"},
		{name: "set ignores default", input: "root: ${FTECHO_TEST_SET:-fallback}", want: "root: value"},
		{name: "empty uses default", input: "root: ${FTECHO_TEST_EMPTY:-fallback}", want: "root: fallback"},
		{name: "multiple in one line", input: "${FTECHO_TEST_SET}/${FTECHO_TEST_UNSET:-x}", want: "value/x"},
		{name: "bare dollar untouched", input: "cost: $5", want: "cost: $5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
