package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestKey_Commutative(t *testing.T) {
	pairs := [][2]UserID{{1, 2}, {2, 1}, {10, 9}, {7, 7}, {100, 3}}
	for _, p := range pairs {
		if Key(p[0], p[1]) != Key(p[1], p[0]) {
			t.Errorf("Key(%d,%d)=%q differs from Key(%d,%d)=%q",
				p[0], p[1], Key(p[0], p[1]), p[1], p[0], Key(p[1], p[0]))
		}
	}
}

func TestKey_SmallerFirst(t *testing.T) {
	// Numeric, not lexical, ordering: 9 < 10.
	if got := Key(10, 9); got != "9-10" {
		t.Errorf("Key(10, 9) = %q, want %q", got, "9-10")
	}
	if got := Key(3, 3); got != "3-3" {
		t.Errorf("Key(3, 3) = %q, want %q", got, "3-3")
	}
}

func TestNewChat_OrdersUsers(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	c := NewChat(42, 7, 99, ts)
	if c.User1 != 7 || c.User2 != 42 {
		t.Errorf("users = (%d,%d), want (7,42)", c.User1, c.User2)
	}
	if c.Key != "7-42" {
		t.Errorf("key = %q, want %q", c.Key, "7-42")
	}
	if c.LastMessageID != 99 || !c.LastMessageAt.Equal(ts) {
		t.Errorf("unexpected last message pointer: %+v", c)
	}
}

func TestUserID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    UserID
		wantErr bool
	}{
		{"number", `12`, 12, false},
		{"string", `"12"`, 12, false},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"non-numeric string", `"abc"`, 0, true},
		{"float", `1.5`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id UserID
			err := json.Unmarshal([]byte(tt.input), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, id, tt.want)
			}
		})
	}
}

func TestParseUserID(t *testing.T) {
	if id, err := ParseUserID(" 5 "); err != nil || id != 5 {
		t.Errorf("ParseUserID(\" 5 \") = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "x1"} {
		if _, err := ParseUserID(bad); err == nil {
			t.Errorf("ParseUserID(%q) expected error", bad)
		}
	}
}

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"simple", "hello", false},
		{"exactly max chars", strings.Repeat("a", MaxTextChars), false},
		{"multibyte at max", strings.Repeat("é", MaxTextChars), false},
		{"over max chars", strings.Repeat("a", MaxTextChars+1), true},
		{"empty", "", true},
		{"invalid utf8", "\xff\xfe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateText error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
