package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("stun url = %q", servers[0].URLs[0])
	}
	if servers[1].Username != "u" {
		t.Errorf("turn username = %q", servers[1].Username)
	}
}

func TestParseICEServersJSONRejectsTURNWithoutCredentials(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls": "turn:turn.example.com:3478"}]`)
	if err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestParseICEServersJSONRejectsUnknownScheme(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls": "https://example.com"}]`)
	if err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := parseICEServersFromConvenienceEnv(
		"stun:a.example.com, stun:b.example.com",
		"turn:t.example.com",
		"user", "pass",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun urls = %v", servers[0].URLs)
	}

	if _, err := parseICEServersFromConvenienceEnv("", "turn:t.example.com", "", ""); err == nil {
		t.Fatal("expected error for TURN without username/credential")
	}
}
