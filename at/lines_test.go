package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/modemcore/at"
)

func TestScanLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "Registration query",
			input: "+CREG: 2,1,\"1A2B\",\"3C4D\"\r\nOK\r\n",
			want:  []string{"+CREG: 2,1,\"1A2B\",\"3C4D\"", "OK"},
		},
		{
			name:  "Network scan",
			input: "+COPS: (2,\"Example Net\",\"ExNet\",\"23415\",2),,(0,1,2,3,4),(0,1,2)\r\nOK\r\n",
			want:  []string{"+COPS: (2,\"Example Net\",\"ExNet\",\"23415\",2),,(0,1,2,3,4),(0,1,2)", "OK"},
		},
		{
			name:  "Verbose error",
			input: "+CME ERROR: no network service\r\n",
			want:  []string{"+CME ERROR: no network service"},
		},
		{
			name:  "Notification between responses",
			input: "OK\r\n+CREG: 5,\"00C3\",\"A1B2\",2\r\n+COPS: 0,0,\"Example Net\",2\r\nOK\r\n",
			want:  []string{"OK", "+CREG: 5,\"00C3\",\"A1B2\",2", "+COPS: 0,0,\"Example Net\",2", "OK"},
		},
		{
			name:  "Prompt is its own token",
			input: "> \r\nOK\r\n",
			want:  []string{"> ", "", "OK"},
		},
		{
			name:  "Echoed command",
			input: "AT+COPS?\r\n+COPS: 0\r\nOK\r\n",
			want:  []string{"AT+COPS?", "+COPS: 0", "OK"},
		},
		{
			name:  "Empty lines are kept",
			input: "\r\nOK\r\n\r\n",
			want:  []string{"", "OK", ""},
		},
		{
			name:  "Unterminated line at EOF",
			input: "OK\r\n+CREG: 1",
			want:  []string{"OK", "+CREG: 1"},
		},
		{
			name:  "Partial prompt at EOF",
			input: ">",
			want:  []string{">"},
		},
		{
			name:  "Lone CR stays in the line",
			input: "+COPS: 0\rOK\r\n",
			want:  []string{"+COPS: 0\rOK"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.ScanLines)

			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("scanner error: %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %d tokens %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("token %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		line string
		want at.LineKind
	}{
		{"OK", at.LineFinal},
		{"ERROR", at.LineFinal},
		{"+CME ERROR: 30", at.LineFinal},
		{"+CME ERROR: no network service", at.LineFinal},
		{"+CMS ERROR: 500", at.LineFinal},
		{"NO CARRIER", at.LineFinal},
		{"BUSY", at.LineFinal},
		{"CONNECT", at.LineFinal},
		{"CONNECT 115200", at.LineFinal},
		{"CONNECTED", at.LineData},
		{"OK ", at.LineData},

		{"RING", at.LineUnsolicited},
		{"+CRING: VOICE", at.LineUnsolicited},
		{"+CMTI: \"SM\",1", at.LineUnsolicited},
		{"+CUSD: 0,\"Balance\",15", at.LineUnsolicited},

		{"+CREG: 2,1", at.LineData},
		{"+CREG: 5,\"00C3\",\"A1B2\"", at.LineData},
		{"+COPS: 0,0,\"Example Net\",2", at.LineData},
		{"+CPIN: READY", at.LineData},
		{"Quectel", at.LineData},

		{"> ", at.LinePrompt},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := at.KindOf(tt.line); got != tt.want {
				t.Errorf("KindOf(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
